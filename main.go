package main

import "github.com/Thunsis/epub-translater/cmd"

func main() {
	cmd.Execute()
}
