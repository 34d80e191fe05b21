package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"crispdesk/internal/directory"

	"github.com/spf13/cobra"
)

// openStore opens the directory database named by the config.
func openStore() (*directory.SQLiteStore, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	return directory.NewSQLiteStore(cfg.Directory.DBPath, logger)
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user directory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [name] [email]",
		Short: "Add a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := store.AddUser(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("added user #%d %s <%s>\n", u.ID, u.Name, u.Email)
			return nil
		},
	})

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users, optionally filtered by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			users, err := store.ListUsers(ctx)
			if search != "" {
				users, err = store.SearchUsers(ctx, search)
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCREATED")
			for _, u := range users {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.CreatedAt.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&search, "search", "", "only users whose name contains this text")
	cmd.AddCommand(list)

	return cmd
}

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Manage directory posts (chirps)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add [user-id] [message...]",
		Short: "Add a post for a user, dated now",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := store.AddPost(cmd.Context(), userID, strings.Join(args[1:], " "), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("added post #%d\n", p.ID)
			return nil
		},
	})
	return cmd
}

func reportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect submitted bug reports",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent bug reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			reports, err := store.ListBugReports(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Println("no bug reports")
				return nil
			}
			for _, r := range reports {
				fmt.Printf("#%d  %s  conversation=%s participant=%s\n", r.ID, r.CreatedAt.Format(time.DateTime), r.ConversationID, r.ParticipantID)
				for _, d := range r.Details {
					fmt.Printf("    - %s\n", d)
				}
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of reports")
	cmd.AddCommand(list)
	return cmd
}
