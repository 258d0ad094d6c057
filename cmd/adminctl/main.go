package main

import "github.com/noah-isme/esim-admin/internal/cli"

func main() {
	cli.Execute()
}
