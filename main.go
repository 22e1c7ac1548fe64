/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/
package main

import "github.com/svank/appa-backend/cmd"

func main() {
	cmd.Execute()
}
