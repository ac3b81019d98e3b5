package main

import "sortie/cmd"

func main() {
	cmd.Execute()
}
