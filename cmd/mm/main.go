package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modmarket/internal/config"
	"modmarket/internal/db"
	"modmarket/internal/domain"
	"modmarket/internal/engine"
	"modmarket/internal/migrate"
	"modmarket/internal/repo"
	"modmarket/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mm",
	Short: "Modmarket module marketplace",
	Long:  "Commanders publish modules inside projects, nodes claim and deliver them, and reviews turn bounties into reputation. State lives in a local SQLite workspace.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags(rootCmd)
	registerCommands(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MODMARKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("workspace", ".", "workspace directory (holds .modmarket/)")
	cmd.PersistentFlags().Bool("json", false, "JSON output")
	cmd.PersistentFlags().String("actor-id", "", "acting user id")
	_ = viper.BindPFlag("workspace", cmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", cmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", cmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands(cmd *cobra.Command) {
	cmd.AddCommand(userCmd())
	cmd.AddCommand(projectCmd())
	cmd.AddCommand(moduleCmd())
	cmd.AddCommand(deliveryCmd())
	cmd.AddCommand(abandonRequestCmd())
	cmd.AddCommand(notificationCmd())
	cmd.AddCommand(leaderboardCmd())
	cmd.AddCommand(logCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(authCmd())
	cmd.AddCommand(serveCmd())
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Every actor is a user: commanders publish modules and review deliveries, nodes claim modules and submit work. Registration grants the baseline reputation score.",
	}
	user.AddCommand(userRegisterCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userReputationCmd())
	return user
}

func userRegisterCmd() *cobra.Command {
	var username, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := e.RegisterUser(ctx, username, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "unique username")
	cmd.Flags().StringVar(&role, "role", "node", "role (commander or node)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-username>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := e.GetUser(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					u, err = e.GetUserByUsername(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userReputationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reputation <id>",
		Short: "Show a user's reputation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries, err := e.ReputationHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Change", "Reason", "Module"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.CreatedAt, en.Change, en.Reason, en.ModuleID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	project := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects group modules under a single commander. Only the project creator can publish modules into it or review their deliveries.",
	}
	project.AddCommand(projectCreateCmd())
	project.AddCommand(projectListCmd())
	project.AddCommand(projectShowCmd())
	project.AddCommand(projectUpdateCmd())
	return project
}

func projectCreateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.CreateProject(ctx, actor, name, description)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projects, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Creator"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			var desc *string
			if cmd.Flags().Changed("description") {
				desc = &description
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.UpdateProject(ctx, actor, args[0], status, desc)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (planning, active, paused, completed)")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func moduleCmd() *cobra.Command {
	module := &cobra.Command{
		Use:   "module",
		Short: "Manage modules",
		Long:  "Modules are the marketplace work items. They flow open -> in_progress -> completed/closed. Nodes claim a slot, deliver, and the commander's review settles the bounty.",
	}
	module.AddCommand(moduleCreateCmd())
	module.AddCommand(moduleListCmd())
	module.AddCommand(moduleShowCmd())
	module.AddCommand(moduleUpdateCmd())
	module.AddCommand(moduleClaimCmd())
	module.AddCommand(moduleCancelCmd())
	module.AddCommand(moduleAbandonCmd())
	module.AddCommand(moduleReviewsCmd())
	return module
}

func moduleCreateCmd() *cobra.Command {
	var in engine.CreateModuleInput
	var bounty int
	var deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a module",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bounty") {
				in.Bounty = &bounty
			}
			in.Deadline = optionalString(deadline)
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.CreateModule(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().IntVar(&bounty, "bounty", 0, "reputation bounty")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func moduleListCmd() *cobra.Command {
	var projectID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				modules, err := e.ListModules(ctx, projectID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(modules)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Bounty", "Assignees", "Timeout"})
				for _, m := range modules {
					bounty := ""
					if m.Bounty != nil {
						bounty = strconv.Itoa(*m.Bounty)
					}
					tw.AppendRow(table.Row{m.ID, m.Title, m.Status, bounty, len(m.Assignees), m.IsTimeout})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func moduleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a module with its assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.GetModuleView(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func moduleUpdateCmd() *cobra.Command {
	var title, description, deadline string
	var bounty int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an open module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			var in engine.UpdateModuleInput
			if cmd.Flags().Changed("title") {
				in.Title = &title
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if cmd.Flags().Changed("bounty") {
				in.Bounty = &bounty
			}
			if cmd.Flags().Changed("deadline") {
				in.Deadline = &deadline
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.UpdateModule(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().IntVar(&bounty, "bounty", 0, "new bounty")
	cmd.Flags().StringVar(&deadline, "deadline", "", "new deadline (RFC3339)")
	return cmd
}

func moduleClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a module slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.ClaimModule(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func moduleCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a module and release its assignees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.CancelModule(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func moduleAbandonCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abandon <id>",
		Short: "Request to abandon a claimed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				req, err := e.RequestAbandon(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the module is being abandoned")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func moduleReviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews <id>",
		Short: "List reviews for a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				reviews, err := e.ListModuleReviews(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(reviews)
			})
		},
	}
	return cmd
}

func deliveryCmd() *cobra.Command {
	delivery := &cobra.Command{
		Use:   "delivery",
		Short: "Manage deliveries",
		Long:  "Deliveries are submitted work. One pending delivery per node per module; the commander reviews with pass, reject, or close.",
	}
	delivery.AddCommand(deliverySubmitCmd())
	delivery.AddCommand(deliveryListCmd())
	delivery.AddCommand(deliveryShowCmd())
	delivery.AddCommand(deliveryReviewCmd())
	return delivery
}

func deliverySubmitCmd() *cobra.Command {
	var content string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "submit <module-id>",
		Short: "Submit a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			atts, err := parseAttachments(attachments)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.SubmitDelivery(ctx, actor, args[0], content, atts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "delivery content")
	cmd.Flags().StringArrayVar(&attachments, "attachment", []string{}, "attachment as name=url (repeatable)")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func deliveryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <module-id>",
		Short: "List deliveries for a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				deliveries, err := e.ListDeliveries(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deliveries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Submitter", "Status", "Submitted"})
				for _, d := range deliveries {
					tw.AppendRow(table.Row{d.ID, d.SubmitterID, d.Status, d.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func deliveryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.GetDelivery(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func deliveryReviewCmd() *cobra.Command {
	var in engine.ReviewInput
	var totalScore int
	var allocations []string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Review a delivery (pass, reject, or close)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("total-score") {
				in.TotalScore = &totalScore
			}
			if len(allocations) > 0 {
				in.Allocations, err = parseAllocations(allocations)
				if err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rev, err := e.ReviewDelivery(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(rev)
			})
		},
	}
	cmd.Flags().StringVar(&in.Decision, "decision", "", "pass, reject, or close")
	cmd.Flags().StringVar(&in.Feedback, "feedback", "", "review feedback")
	cmd.Flags().IntVar(&totalScore, "total-score", 0, "total score to distribute (defaults to the bounty)")
	cmd.Flags().StringArrayVar(&allocations, "allocate", []string{}, "explicit allocation as user-id=score (repeatable)")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func abandonRequestCmd() *cobra.Command {
	abandon := &cobra.Command{
		Use:   "abandon-request",
		Short: "Manage abandon requests",
	}
	abandon.AddCommand(abandonListCmd())
	abandon.AddCommand(abandonShowCmd())
	abandon.AddCommand(abandonReviewCmd())
	return abandon
}

func abandonListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List abandon requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				requests, err := e.ListAbandonRequests(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(requests)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Module", "Requester", "Status", "Reason"})
				for _, r := range requests {
					tw.AppendRow(table.Row{r.ID, r.ModuleID, r.RequesterID, r.Status, r.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, approved, rejected)")
	return cmd
}

func abandonShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an abandon request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				req, err := e.GetAbandonRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

func abandonReviewCmd() *cobra.Command {
	var approve, reject bool
	var comment string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or reject an abandon request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				req, err := e.ReviewAbandon(ctx, actor, args[0], approve, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the request")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func notificationCmd() *cobra.Command {
	notification := &cobra.Command{
		Use:   "notification",
		Short: "Manage notifications",
	}
	notification.AddCommand(notificationListCmd())
	notification.AddCommand(notificationUnreadCountCmd())
	notification.AddCommand(notificationReadCmd())
	notification.AddCommand(notificationReadAllCmd())
	return notification
}

func notificationListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				notes, err := e.Notifications(ctx, actor, unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(notes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Read", "When"})
				for _, n := range notes {
					tw.AppendRow(table.Row{n.ID, n.Type, n.Title, n.IsRead, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "limit", 50, "max notifications")
	return cmd
}

func notificationUnreadCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread-count",
		Short: "Count unread notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				count, err := e.UnreadNotificationCount(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"unread": count})
			})
		},
	}
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.MarkNotificationRead(ctx, args[0], actor)
			})
		},
	}
	return cmd
}

func notificationReadAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark all notifications read",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				n, err := e.MarkAllNotificationsRead(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"marked": n})
			})
		},
	}
	return cmd
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show nodes ranked by reputation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				users, err := e.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rank", "Username", "Reputation", "Active Claims"})
				for i, u := range users {
					tw.AppendRow(table.Row{i + 1, u.Username, u.ReputationScore, u.ConcurrentTaskCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var cursor int64
	var projectID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.LatestEvents(ctx, n, cursor, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "return events with id below this cursor")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default modmarket.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate modmarket.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	return cmd
}

func authCmd() *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
	}
	auth.AddCommand(authAPIKeyCmd())
	return auth
}

func authAPIKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Create an API key for the acting user",
		Long:  "The plaintext key is printed once and never stored; only its hash is kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				key, plaintext, err := e.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":   key.ID,
					"name": key.Name,
					"key":  plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Server.JWTSecret,
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("MODMARKET_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("a JWT secret is required: set server.jwt_secret in %s or MODMARKET_JWT_SECRET", config.Path(workspace))
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Modmarket API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func requireActor() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", fmt.Errorf("--actor-id (or MODMARKET_ACTOR_ID) is required")
	}
	return actor, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAttachments(specs []string) ([]domain.Attachment, error) {
	var atts []domain.Attachment
	for _, s := range specs {
		name, url, ok := strings.Cut(s, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid attachment %q, want name=url", s)
		}
		atts = append(atts, domain.Attachment{Name: name, URL: url})
	}
	return atts, nil
}

func parseAllocations(specs []string) (map[string]int, error) {
	out := make(map[string]int, len(specs))
	for _, s := range specs {
		userID, raw, ok := strings.Cut(s, "=")
		if !ok || userID == "" {
			return nil, fmt.Errorf("invalid allocation %q, want user-id=score", s)
		}
		score, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid allocation score in %q: %w", s, err)
		}
		out[userID] = score
	}
	return out, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
