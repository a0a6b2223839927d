package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultServer = "http://localhost:8080"

type cliConfig struct {
	server     string
	pak        string
	jsonOutput bool
}

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if command == "" {
		printUsage()
		os.Exit(1)
	}

	client := NewAPIClient(cfg.server, cfg.pak)
	ctx := context.Background()

	switch command {
	case "stacks":
		err = runStacks(ctx, client, cfg, args)
	case "agents":
		err = runAgents(ctx, client, cfg, args)
	case "generators":
		err = runGenerators(ctx, client, cfg, args)
	case "work-orders":
		err = runWorkOrders(ctx, client, cfg, args)
	case "templates":
		err = runTemplates(ctx, client, cfg, args)
	case "reload":
		err = client.ReloadConfig(ctx)
		if err == nil {
			fmt.Println("reload triggered")
		}
	case "version":
		fmt.Printf("brokkrctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help", "--help", "-h":
		printUsage()
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{
		server:     defaultServer,
		pak:        os.Getenv("BROKKR_PAK"),
		jsonOutput: false,
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--server", "-s":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--server requires a value")
			}
			cfg.server = args[idx+1]
			idx += 2
		case "--pak":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--pak requires a value")
			}
			cfg.pak = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}

	return cfg, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: brokkrctl [--server <url>] [--pak <key>] [--json] <command>

Commands:
  stacks list
  stacks get <id>
  stacks create --name <name> [--description <text>]
  stacks delete <id>
  agents list
  agents get <id>
  agents create --name <name> --cluster <cluster>
  agents delete <id>
  agents target <agent-id> <stack-id>
  generators list
  generators create --name <name> [--description <text>]
  generators delete <id>
  work-orders list
  work-orders create --type <work_type> --file <path> [--agent <id>] [--label <label>]
  templates list
  templates create --name <name> --file <path> --schema <path> [--label <label>]
  templates instantiate <id> --stack <stack-id> --params <json>
  reload                     Trigger a hot configuration reload
  version
`)
}

func runStacks(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: brokkrctl stacks list|get|create|delete")
	}
	switch args[0] {
	case "list":
		stacks, err := client.ListStacks(ctx)
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			return PrintJSON(os.Stdout, stacks)
		}
		headers := []string{"ID", "NAME", "DESCRIPTION", "CREATED"}
		rows := make([][]string, 0, len(stacks))
		for _, s := range stacks {
			rows = append(rows, []string{Truncate(s.ID, 18), s.Name, Truncate(s.Description, 30), s.CreatedAt})
		}
		RenderTable(os.Stdout, headers, rows)
		return nil
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: brokkrctl stacks get <id>")
		}
		stack, err := client.GetStack(ctx, args[1])
		if err != nil {
			return err
		}
		return PrintJSON(os.Stdout, stack)
	case "create":
		name, description, err := parseNameDescription(args[1:])
		if err != nil {
			return err
		}
		stack, err := client.CreateStack(ctx, name, description)
		if err != nil {
			return err
		}
		return PrintJSON(os.Stdout, stack)
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: brokkrctl stacks delete <id>")
		}
		if err := client.DeleteStack(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	default:
		return fmt.Errorf("unknown stacks command: %s", args[0])
	}
}

func runAgents(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: brokkrctl agents list|get|create|delete|target")
	}
	switch args[0] {
	case "list":
		agents, err := client.ListAgents(ctx)
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			return PrintJSON(os.Stdout, agents)
		}
		headers := []string{"ID", "NAME", "CLUSTER", "STATUS", "LAST HEARTBEAT"}
		rows := make([][]string, 0, len(agents))
		for _, a := range agents {
			lastSeen := "-"
			if a.LastHeartbeatAt != nil {
				lastSeen = *a.LastHeartbeatAt
			}
			rows = append(rows, []string{Truncate(a.ID, 18), a.Name, a.ClusterName, ColorStatus(a.Status), lastSeen})
		}
		RenderTable(os.Stdout, headers, rows)
		return nil
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: brokkrctl agents get <id>")
		}
		agent, err := client.GetAgent(ctx, args[1])
		if err != nil {
			return err
		}
		return PrintJSON(os.Stdout, agent)
	case "create":
		name, cluster := "", ""
		for i := 1; i < len(args); i++ {
			switch args[i] {
			case "--name":
				i++
				if i >= len(args) {
					return fmt.Errorf("--name requires a value")
				}
				name = args[i]
			case "--cluster":
				i++
				if i >= len(args) {
					return fmt.Errorf("--cluster requires a value")
				}
				cluster = args[i]
			default:
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
		if name == "" || cluster == "" {
			return fmt.Errorf("--name and --cluster are required")
		}
		result, err := client.CreateAgent(ctx, name, cluster)
		if err != nil {
			return err
		}
		fmt.Printf("ID: %s\nPAK: %s\n", result.ID, result.PAK)
		fmt.Println("Store the PAK now — it is shown only once.")
		return nil
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: brokkrctl agents delete <id>")
		}
		if err := client.DeleteAgent(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	case "target":
		if len(args) != 3 {
			return fmt.Errorf("usage: brokkrctl agents target <agent-id> <stack-id>")
		}
		if err := client.AddAgentTarget(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("target added")
		return nil
	default:
		return fmt.Errorf("unknown agents command: %s", args[0])
	}
}

func runGenerators(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: brokkrctl generators list|create|delete")
	}
	switch args[0] {
	case "list":
		generators, err := client.ListGenerators(ctx)
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			return PrintJSON(os.Stdout, generators)
		}
		headers := []string{"ID", "NAME", "DESCRIPTION", "CREATED"}
		rows := make([][]string, 0, len(generators))
		for _, g := range generators {
			rows = append(rows, []string{Truncate(g.ID, 18), g.Name, Truncate(g.Description, 30), g.CreatedAt})
		}
		RenderTable(os.Stdout, headers, rows)
		return nil
	case "create":
		name, description, err := parseNameDescription(args[1:])
		if err != nil {
			return err
		}
		result, err := client.CreateGenerator(ctx, name, description)
		if err != nil {
			return err
		}
		fmt.Printf("ID: %s\nPAK: %s\n", result.ID, result.PAK)
		fmt.Println("Store the PAK now — it is shown only once.")
		return nil
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: brokkrctl generators delete <id>")
		}
		if err := client.DeleteGenerator(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	default:
		return fmt.Errorf("unknown generators command: %s", args[0])
	}
}

func runWorkOrders(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: brokkrctl work-orders list|create")
	}
	switch args[0] {
	case "list":
		orders, err := client.ListWorkOrders(ctx)
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			return PrintJSON(os.Stdout, orders)
		}
		headers := []string{"ID", "TYPE", "STATUS", "RETRIES", "CREATED"}
		rows := make([][]string, 0, len(orders))
		for _, o := range orders {
			rows = append(rows, []string{
				Truncate(o.ID, 18), o.WorkType, ColorStatus(o.Status),
				fmt.Sprintf("%d/%d", o.RetryCount, o.MaxRetries), o.CreatedAt,
			})
		}
		RenderTable(os.Stdout, headers, rows)
		return nil
	case "create":
		workType, file := "", ""
		var agentIDs, labels []string
		for i := 1; i < len(args); i++ {
			switch args[i] {
			case "--type":
				i++
				if i >= len(args) {
					return fmt.Errorf("--type requires a value")
				}
				workType = args[i]
			case "--file":
				i++
				if i >= len(args) {
					return fmt.Errorf("--file requires a value")
				}
				file = args[i]
			case "--agent":
				i++
				if i >= len(args) {
					return fmt.Errorf("--agent requires a value")
				}
				agentIDs = append(agentIDs, args[i])
			case "--label":
				i++
				if i >= len(args) {
					return fmt.Errorf("--label requires a value")
				}
				labels = append(labels, args[i])
			default:
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
		if workType == "" || file == "" {
			return fmt.Errorf("--type and --file are required")
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		order, err := client.CreateWorkOrder(ctx, workType, string(content), agentIDs, labels)
		if err != nil {
			return err
		}
		return PrintJSON(os.Stdout, order)
	default:
		return fmt.Errorf("unknown work-orders command: %s", args[0])
	}
}

func runTemplates(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: brokkrctl templates list|create|instantiate")
	}
	switch args[0] {
	case "list":
		templates, err := client.ListTemplates(ctx)
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			return PrintJSON(os.Stdout, templates)
		}
		headers := []string{"ID", "NAME", "VERSION", "REQUIRED LABELS"}
		rows := make([][]string, 0, len(templates))
		for _, t := range templates {
			rows = append(rows, []string{Truncate(t.ID, 18), t.Name, strconv.Itoa(t.Version), strings.Join(t.RequiredLabels, ",")})
		}
		RenderTable(os.Stdout, headers, rows)
		return nil
	case "create":
		name, file, schemaFile := "", "", ""
		version := 1
		var requiredLabels []string
		for i := 1; i < len(args); i++ {
			switch args[i] {
			case "--name":
				i++
				name = args[i]
			case "--file":
				i++
				file = args[i]
			case "--schema":
				i++
				schemaFile = args[i]
			case "--version":
				i++
				v, err := strconv.Atoi(args[i])
				if err != nil {
					return fmt.Errorf("--version must be an integer")
				}
				version = v
			case "--label":
				i++
				requiredLabels = append(requiredLabels, args[i])
			default:
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
		if name == "" || file == "" || schemaFile == "" {
			return fmt.Errorf("--name, --file, and --schema are required")
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		schema, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", schemaFile, err)
		}
		tpl, err := client.CreateTemplate(ctx, name, string(content), version, json.RawMessage(schema), requiredLabels)
		if err != nil {
			return err
		}
		return PrintJSON(os.Stdout, tpl)
	case "instantiate":
		if len(args) < 2 {
			return fmt.Errorf("usage: brokkrctl templates instantiate <id> --stack <stack-id> --params <json>")
		}
		templateID := args[1]
		stackID, paramsRaw := "", "{}"
		for i := 2; i < len(args); i++ {
			switch args[i] {
			case "--stack":
				i++
				stackID = args[i]
			case "--params":
				i++
				paramsRaw = args[i]
			default:
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
		if stackID == "" {
			return fmt.Errorf("--stack is required")
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(paramsRaw), &params); err != nil {
			return fmt.Errorf("--params must be valid JSON: %w", err)
		}
		result, err := client.InstantiateTemplate(ctx, templateID, stackID, params)
		if err != nil {
			return err
		}
		fmt.Println(string(result))
		return nil
	default:
		return fmt.Errorf("unknown templates command: %s", args[0])
	}
}

func parseNameDescription(args []string) (name, description string, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			i++
			if i >= len(args) {
				return "", "", fmt.Errorf("--name requires a value")
			}
			name = args[i]
		case "--description":
			i++
			if i >= len(args) {
				return "", "", fmt.Errorf("--description requires a value")
			}
			description = args[i]
		default:
			return "", "", fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if name == "" {
		return "", "", fmt.Errorf("--name is required")
	}
	return name, description, nil
}
