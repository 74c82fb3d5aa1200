package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"wakit/pkg/roster"

	"github.com/spf13/cobra"
)

var (
	groupsParticipants bool
	groupsLimit        int
)

var groupsCmd = &cobra.Command{
	Use:   "groups [query]",
	Short: "List groups of the instance or search them by subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		cache := roster.NewCache(client, time.Duration(cfg.Roster.TTLSeconds)*time.Second, cfg.Roster.Size, log)
		groups, err := cache.Get(cmd.Context(), groupsParticipants)
		if err != nil {
			return err
		}

		printGroups(cmd.OutOrStdout(), groups, strings.TrimSpace(strings.Join(args, " ")), groupsLimit)
		return nil
	},
}

func init() {
	groupsCmd.Flags().BoolVar(&groupsParticipants, "participants", false, "include participant lists")
	groupsCmd.Flags().IntVar(&groupsLimit, "limit", 10, "maximum search results")
	rootCmd.AddCommand(groupsCmd)
}

func printGroups(w io.Writer, groups *roster.Groups, query string, limit int) {
	counts := groups.CountByKind()
	printTitle(w, fmt.Sprintf("%d groups", len(groups.Groups)))
	for _, kind := range []roster.Kind{roster.KindCommunityRoot, roster.KindCommunityAnnounceChild, roster.KindRegularGroup} {
		printField(w, string(kind), counts[kind])
	}
	if len(groups.Failures) > 0 {
		printWarn(w, fmt.Sprintf("%d groups could not be parsed", len(groups.Failures)))
	}

	selected := groups.Groups
	if query != "" {
		selected = groups.Search(query, limit)
		if len(selected) == 0 {
			printWarn(w, fmt.Sprintf("No groups match %q", query))
			return
		}
	}

	lines := make([]string, 0, len(selected))
	for _, group := range selected {
		line := fmt.Sprintf("%s  %s  (%s, %d members)", group.ID, group.Subject, group.Kind(), group.Size)
		if n := len(group.Participants); n > 0 {
			admins := 0
			for _, participant := range group.Participants {
				if participant.IsAdmin() || participant.IsSuperAdmin() {
					admins++
				}
			}
			line += fmt.Sprintf(" admins=%d", admins)
		}
		lines = append(lines, line)
	}
	printBox(w, strings.Join(lines, "\n"))
}
