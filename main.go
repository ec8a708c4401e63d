package main

import "github.com/typescript-community/community-bot-sub000/cmd"

func main() {
	cmd.Execute()
}
