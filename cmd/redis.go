package cmd

import (
	"context"
	"fmt"
	"time"

	"boardsync/cache"

	"github.com/spf13/cobra"
)

var redisTail int

var redisCmd = &cobra.Command{
	Use:   "redis [session-id]",
	Short: "Check the Redis connection or print a mirrored message log",
	Long: `Without arguments, connects to Redis and runs a set/get/del round trip.
With a session id, prints the messages that session mirrored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		fmt.Printf("Connecting to Redis at %s (db %d)...\n", cfg.RedisAddr(), cfg.RedisDB)
		client, err := cache.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		if len(args) == 0 {
			if err := cache.Probe(ctx, client); err != nil {
				return err
			}
			fmt.Println("Redis round trip OK")
			return nil
		}

		msgs, err := cache.NewMessageLogCache(client, args[0], 0, 0).Recent(ctx, redisTail)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("%s  %-8s  %-12s  %s\n",
				time.UnixMilli(m.Timestamp).Format("15:04:05.000"), m.Direction, m.Method, m.Payload)
		}
		fmt.Printf("%d message(s)\n", len(msgs))
		return nil
	},
}

func init() {
	redisCmd.Flags().IntVarP(&redisTail, "tail", "n", 50, "number of messages to print, 0 for all")
	rootCmd.AddCommand(redisCmd)
}
