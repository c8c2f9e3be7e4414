package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	cli "github.com/urfave/cli/v3"

	"github.com/brianstittsr/loom/pkg/blueprint"
	"github.com/brianstittsr/loom/pkg/cmd"
	"github.com/brianstittsr/loom/pkg/log"
	"github.com/brianstittsr/loom/pkg/models"
	"github.com/brianstittsr/loom/pkg/persistence"
	"github.com/brianstittsr/loom/pkg/services"
)

// newWorkflowService builds the workflow service for one CLI invocation.
// The registry runs without collaborators: validation and cataloging
// need the schemas, not the external services.
func newWorkflowService(ctx context.Context, command *cli.Command) (*services.Workflow, persistence.Persistence, error) {
	log.Setup(command.String("log-level"), "text")
	logger := log.WithModule("loom")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, nil, fmt.Errorf("initialize persistence: %w", err)
	}

	registry := cmd.NewRegistry(logger, cmd.CollaboratorConfig{})

	return services.NewWorkflow(store, registry), store, nil
}

func workflowCommand() *cli.Command {
	return &cli.Command{
		Name:    "workflow",
		Aliases: []string{"w"},
		Usage:   "Manage workflows",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List workflows, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "team-id", Usage: "Filter by owning team"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status (draft, active, disabled)"},
				},
				Action: listWorkflows,
			},
			{
				Name:  "create",
				Usage: "Create an empty draft workflow",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Workflow name", Required: true},
					&cli.StringFlag{Name: "description", Usage: "Workflow description"},
					&cli.StringFlag{Name: "owner", Usage: "Creating user reference"},
					&cli.StringFlag{Name: "team-id", Usage: "Owning team reference"},
				},
				Action: createWorkflow,
			},
			{
				Name:      "show",
				Usage:     "Print one workflow document as JSON",
				ArgsUsage: "<workflow-id>",
				Action:    showWorkflow,
			},
			{
				Name:      "validate",
				Usage:     "Run graph validation against a stored workflow",
				ArgsUsage: "<workflow-id>",
				Action:    validateWorkflow,
			},
		},
	}
}

func blueprintCommand() *cli.Command {
	return &cli.Command{
		Name:    "blueprint",
		Aliases: []string{"b"},
		Usage:   "Manage workflow blueprints",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List the built-in blueprints",
				Action:  listBlueprints,
			},
			{
				Name:      "apply",
				Usage:     "Instantiate a blueprint as a draft workflow",
				ArgsUsage: "<blueprint-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Name for the new workflow (defaults to the blueprint name)"},
					&cli.StringFlag{Name: "owner", Usage: "Creating user reference"},
					&cli.StringFlag{Name: "team-id", Usage: "Owning team reference"},
				},
				Action: applyBlueprint,
			},
		},
	}
}

func listWorkflows(ctx context.Context, command *cli.Command) error {
	workflows, store, err := newWorkflowService(ctx, command)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	filter := persistence.WorkflowFilter{
		TeamID: command.String("team-id"),
		Limit:  persistence.MaxListLimit,
	}

	if statusStr := command.String("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		filter.Status = &status
	}

	summaries, err := workflows.List(ctx, filter)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tSTATUS\tNODES\tUPDATED")

	for _, summary := range summaries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
			summary.ID, summary.Name, summary.Status, summary.NodeCount,
			summary.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return writer.Flush()
}

func createWorkflow(ctx context.Context, command *cli.Command) error {
	workflows, store, err := newWorkflowService(ctx, command)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	created, err := workflows.Create(ctx, services.CreateWorkflowRequest{
		Name:        command.String("name"),
		Description: command.String("description"),
		Owner:       command.String("owner"),
		TeamID:      command.String("team-id"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created workflow %s (%s)\n", created.ID, created.Status)

	return nil
}

func showWorkflow(ctx context.Context, command *cli.Command) error {
	id := command.Args().First()
	if id == "" {
		return fmt.Errorf("workflow id is required")
	}

	workflows, store, err := newWorkflowService(ctx, command)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	workflow, err := workflows.FetchByID(ctx, id)
	if err != nil {
		return err
	}

	document, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(document))

	return nil
}

func validateWorkflow(ctx context.Context, command *cli.Command) error {
	id := command.Args().First()
	if id == "" {
		return fmt.Errorf("workflow id is required")
	}

	workflows, store, err := newWorkflowService(ctx, command)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	workflow, err := workflows.FetchByID(ctx, id)
	if err != nil {
		return err
	}

	if err := workflows.ValidateGraph(workflow); err != nil {
		fmt.Printf("INVALID: %v\n", err)

		return cli.Exit("", 1)
	}

	fmt.Printf("Workflow %s is valid (%d nodes)\n", workflow.ID, len(workflow.Nodes))

	return nil
}

func listBlueprints(_ context.Context, _ *cli.Command) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tCATEGORY\tNODES")

	for _, b := range blueprint.All() {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n", b.ID, b.Name, b.Category, len(b.Nodes))
	}

	return writer.Flush()
}

func applyBlueprint(ctx context.Context, command *cli.Command) error {
	id := command.Args().First()
	if id == "" {
		return fmt.Errorf("blueprint id is required")
	}

	b, err := blueprint.ByID(id)
	if err != nil {
		return err
	}

	workflows, store, err := newWorkflowService(ctx, command)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	instance := b.Instantiate(command.String("name"), command.String("owner"), command.String("team-id"))

	created, err := workflows.Create(ctx, services.CreateWorkflowRequest{
		Name:        instance.Name,
		Description: instance.Description,
		Owner:       instance.Owner,
		TeamID:      instance.TeamID,
		Nodes:       instance.Nodes,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created workflow %s from blueprint %s\n", created.ID, b.ID)

	return nil
}

func closeStore(ctx context.Context, store persistence.Persistence) {
	if err := store.Close(context.WithoutCancel(ctx)); err != nil {
		log.WithModule("loom").Error("Failed to close persistence", "error", err)
	}
}
