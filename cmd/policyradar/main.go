package main

import "github.com/policyradar/policyradar/cmd/policyradar/cli"

func main() {
	cli.Execute()
}
