package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapvault/snapvault/pkg/engine"
)

func newDigestCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest <kind>",
		Short: "Send one scheduled digest",
		Long: `Fire a single digest action: scan the vault and task list, compose the
message, and deliver it over Telegram.

Digests are read-only; running one twice sends a duplicate message and
changes nothing else.`,
		Example: `  snapvault digest morning_briefing
  snapvault digest nudge
  snapvault digest evening_review`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"morning_briefing", "nudge", "evening_review"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := engine.DigestKind(args[0])
			switch kind {
			case engine.DigestMorningBriefing, engine.DigestNudge, engine.DigestEveningReview:
			default:
				return fmt.Errorf("unknown digest kind %q", args[0])
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, version, "console")
			if err != nil {
				return err
			}
			defer a.Close()

			return a.RunDigest(ctx, kind)
		},
	}

	return cmd
}
