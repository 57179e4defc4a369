package main

import "github.com/ValentinKolb/pKV/cmd"

func main() {
	cmd.Execute()
}
