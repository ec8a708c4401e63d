package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/typescript-community/community-bot-sub000/bot"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the community bot and (optionally) the admin API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		b, err := bot.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		if err = b.Run(ctx); err != nil {
			log.Fatalf("error running bot: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
