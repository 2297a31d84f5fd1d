package main

import "github.com/pip-arch/url-compliance-checker/cmd"

func main() {
	cmd.Execute()
}
