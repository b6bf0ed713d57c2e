package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/tasks"
)

var addCmd = &cobra.Command{
	Use:     "add <title>",
	GroupID: "tasks",
	Short:   "Add a task",
	Long: `Add a task due on the given date (default: today). The task is appended to
the end of its due-date group.

Due dates accept RFC 3339, YYYY-MM-DD or natural language:
  tasksync add "Water plants" --due tomorrow
  tasksync add "Report" -s "Q1 numbers" --due "next friday 5pm"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		subtitle, _ := cmd.Flags().GetString("subtitle")
		dueText, _ := cmd.Flags().GetString("due")

		a := openApp(true)
		defer a.close()
		ctx := context.Background()

		due, err := tasks.ParseDue(dueText, a.svc.Now())
		if err != nil {
			a.fatal("%v", err)
		}

		id, err := a.svc.Create(ctx, strings.Join(args, " "), subtitle, due)
		if err != nil {
			a.fatal("%v", err)
		}
		a.settle()

		if jsonOutput {
			task, _ := a.svc.Get(ctx, id)
			outputJSON(task)
			return
		}
		a.out.Success("Added %s", id)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Change a task's title, subtitle or due date",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		if !flags.Changed("title") && !flags.Changed("subtitle") && !flags.Changed("due") && !flags.Changed("clear-subtitle") {
			fatal("nothing to change (use --title, --subtitle, --clear-subtitle or --due)")
		}

		a := openApp(true)
		defer a.close()
		ctx := context.Background()

		task := a.resolve(ctx, args[0])
		title, subtitle, due := task.Title, task.SubtitleValue(), task.DueDate

		if flags.Changed("title") {
			title, _ = flags.GetString("title")
		}
		if flags.Changed("subtitle") {
			subtitle, _ = flags.GetString("subtitle")
		}
		if clearSub, _ := flags.GetBool("clear-subtitle"); clearSub {
			subtitle = ""
		}
		if flags.Changed("due") {
			text, _ := flags.GetString("due")
			parsed, err := tasks.ParseDue(text, a.svc.Now())
			if err != nil {
				a.fatal("%v", err)
			}
			due = parsed
		}

		if err := a.svc.Update(ctx, task.ID, title, subtitle, due); err != nil {
			a.fatal("%v", err)
		}
		a.settle()
		a.out.Success("Updated %s", task.ID)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	GroupID: "tasks",
	Short:   "Delete tasks",
	Long: `Delete tasks. A deleted task disappears from listings immediately and the
deletion is propagated to the remote on the next sync. Deletion always wins
over edits made elsewhere.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(true)
		defer a.close()
		ctx := context.Background()

		for _, arg := range args {
			task := a.resolve(ctx, arg)
			if err := a.svc.Delete(ctx, task.ID); err != nil {
				a.fatal("%v", err)
			}
			a.out.Success("Deleted %s (%s)", task.ID, task.Title)
		}
		a.settle()
	},
}

var toggleCmd = &cobra.Command{
	Use:     "toggle <id>",
	Aliases: []string{"done"},
	GroupID: "tasks",
	Short:   "Toggle a task's completion",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(true)
		defer a.close()
		ctx := context.Background()

		task := a.resolve(ctx, args[0])
		completed, err := a.svc.ToggleCompletion(ctx, task.ID)
		if err != nil {
			a.fatal("%v", err)
		}
		a.settle()

		if completed {
			a.out.Success("Completed %s", task.Title)
		} else {
			a.out.Success("Reopened %s", task.Title)
		}
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List tasks by due date",
	Long: `List live tasks under Past, Today and Upcoming, each in sort order.
A dot marks tasks with changes not yet synced.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		showIDs, _ := cmd.Flags().GetBool("ids")

		a := openApp(false)
		defer a.close()

		groups, err := a.svc.List(context.Background())
		if err != nil {
			a.fatal("%v", err)
		}
		if jsonOutput {
			outputJSON(groups)
			return
		}
		a.out.Groups(groups, a.svc.Now(), showIDs)
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "tasks",
	Short:   "Show one task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(false)
		defer a.close()

		task := a.resolve(context.Background(), args[0])
		if jsonOutput {
			outputJSON(task)
			return
		}
		a.out.Task(task, a.svc.Now())
	},
}

var reorderCmd = &cobra.Command{
	Use:     "reorder <past|today|upcoming> <id>...",
	GroupID: "tasks",
	Short:   "Set the order of a group",
	Long: `Set the order of every task in a group. The IDs must list each live task of
the group exactly once:

  tasksync reorder today 3f2a 91bc 07de`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		group, ok := record.ParseGroup(args[0])
		if !ok {
			fatal("unknown group %q (want past, today or upcoming)", args[0])
		}

		a := openApp(true)
		defer a.close()
		ctx := context.Background()

		ids := make([]string, 0, len(args)-1)
		for _, arg := range args[1:] {
			ids = append(ids, a.resolve(ctx, arg).ID)
		}
		if err := a.svc.Reorder(ctx, ids, group); err != nil {
			a.fatal("%v", err)
		}
		a.settle()
		a.out.Success("Reordered %s", group)
	},
}

var moveCmd = &cobra.Command{
	Use:     "move <id> <position>",
	GroupID: "tasks",
	Short:   "Move a task within its group (position 0 is first)",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			fatal("invalid position %q", args[1])
		}

		a := openApp(true)
		defer a.close()
		ctx := context.Background()

		task := a.resolve(ctx, args[0])
		if err := a.svc.Move(ctx, task.ID, pos); err != nil {
			a.fatal("%v", err)
		}
		a.settle()
		a.out.Success("Moved %s", task.Title)
	},
}

func init() {
	addCmd.Flags().StringP("subtitle", "s", "", "optional subtitle")
	addCmd.Flags().StringP("due", "d", "today", "due date")

	editCmd.Flags().StringP("title", "t", "", "new title")
	editCmd.Flags().StringP("subtitle", "s", "", "new subtitle")
	editCmd.Flags().Bool("clear-subtitle", false, "remove the subtitle")
	editCmd.Flags().StringP("due", "d", "", "new due date")

	listCmd.Flags().Bool("ids", false, "show task ID prefixes")

	rootCmd.AddCommand(addCmd, editCmd, rmCmd, toggleCmd, listCmd, showCmd, reorderCmd, moveCmd)
}
