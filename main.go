package main

import "github.com/tanq16/danzo-crawl/cmd"

func main() {
	cmd.Execute()
}
