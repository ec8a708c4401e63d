package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/typescript-community/community-bot-sub000/bot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			bot.Version,
			bot.CommitSHA,
			bot.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
