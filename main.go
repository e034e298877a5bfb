// The main package for the strata executable.
package main

import "github.com/JakeFAU/site-tracker/cmd"

func main() {
	cmd.Execute()
}
