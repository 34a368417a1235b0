package main

import "github.com/ovaphlow/pitchfork/service-school-portal/cmd/portal/cmd"

func main() {
	cmd.Execute()
}
