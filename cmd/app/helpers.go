package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/untibullet/fixit/internal/client"
	"github.com/untibullet/fixit/internal/models"
)

var (
	helpersServer string
	helpersToken  string
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var helpersCmd = &cobra.Command{
	Use:   "helpers <issue-id>",
	Short: "Show ranked helper candidates for an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if helpersToken == "" {
			return fmt.Errorf("a bearer token is required (--token or FIXIT_TOKEN)")
		}

		c, err := client.New(client.Options{BaseURL: helpersServer, Token: helpersToken})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		issue, err := c.GetIssue(ctx, args[0])
		if err != nil {
			return err
		}

		candidates, err := c.SuggestHelpers(ctx, issue)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %s  [%s]\n", cyan(issue.Title), statusColor(issue.Status), strings.Join(issue.RequiredSkills, ", "))
		if len(candidates) == 0 {
			fmt.Fprintln(out, yellow("no candidates"))
			return nil
		}
		if candidates[0].Fallback {
			fmt.Fprintln(out, yellow("nobody has the required skills, showing everyone"))
		}

		renderCandidates(out, candidates)
		return nil
	},
}

func init() {
	helpersCmd.Flags().StringVar(&helpersServer, "server", "http://localhost:8080", "FixIT API base URL")
	helpersCmd.Flags().StringVar(&helpersToken, "token", os.Getenv("FIXIT_TOKEN"), "Bearer token")
}

func renderCandidates(w io.Writer, candidates []models.HelperCandidate) {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header([]string{"#", "Name", "Department", "Availability", "Score", "Skills"})

	for i, h := range candidates {
		_ = table.Append([]string{
			fmt.Sprintf("%d", i+1),
			h.Name(),
			h.Department,
			h.Availability,
			scoreColor(h.Score),
			skillList(h.Skills),
		})
	}
	_ = table.Render()
}

func skillList(skills []models.Skill) string {
	parts := make([]string, 0, len(skills))
	for _, s := range skills {
		p := s.Name + ":" + string(s.Level)
		if s.Verified {
			p += "*"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

func scoreColor(score float64) string {
	s := fmt.Sprintf("%.2f", score)
	switch {
	case score >= 0.7:
		return green(s)
	case score >= 0.4:
		return yellow(s)
	default:
		return red(s)
	}
}

func statusColor(status models.IssueStatus) string {
	s := string(status)
	switch status {
	case models.StatusOpen:
		return green(s)
	case models.StatusAssigned, models.StatusInProgress:
		return yellow(s)
	case models.StatusResolved:
		return cyan(s)
	default:
		return red(s)
	}
}
