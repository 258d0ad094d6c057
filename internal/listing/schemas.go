package listing

import (
	"github.com/noah-isme/esim-admin/internal/upstream"
	"github.com/noah-isme/esim-admin/internal/view"
)

// DefaultSchemas describes the status flag and extra search fields of each
// admin API collection.
var DefaultSchemas = map[upstream.Source]view.Schema{
	upstream.SourceUsers: {
		SearchFields: []string{"username"},
	},
	upstream.SourcePackages: {
		SearchFields: []string{"region", "country", "dataVolume"},
	},
	upstream.SourceRefunds: {
		SearchFields: []string{"status", "reason", "orderId"},
	},
	upstream.SourceApplications: {
		SearchFields: []string{"status", "companyName"},
	},
	upstream.SourceOrders: {
		SearchFields: []string{"status", "orderNumber", "iccid"},
	},
}
