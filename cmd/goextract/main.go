package main

import "github.com/dbsmedya/goextract/cmd/goextract/cmd"

func main() {
	cmd.Execute()
}
