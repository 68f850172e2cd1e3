package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/codexec"
	"github.com/BaSui01/codexec/types"
)

func runExecute(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	codePath := fs.String("code", "", "Code file to execute (default: read stdin)")
	configPath := fs.String("config", "", "Path to config file")
	registryPath := fs.String("registry", "", "Tool catalog file (YAML)")
	language := fs.String("language", "javascript", "Guest language")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	var code []byte
	var err error
	if *codePath != "" {
		code, err = os.ReadFile(*codePath)
	} else {
		code, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read code: %v\n", err)
		os.Exit(1)
	}

	orch, err := codexec.New(codexec.WithConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer orch.Close()

	if *registryPath != "" {
		tools, err := loadCatalog(*registryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load tool catalog: %v\n", err)
			os.Exit(1)
		}
		if _, errs := orch.InitializeTools(tools); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "Tool rejected: %v\n", e)
			}
		}
	}

	token, err := orch.CreateSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create session: %v\n", err)
		os.Exit(1)
	}
	defer orch.CloseSession(token)

	result, err := orch.ExecuteAgentCode(context.Background(), types.ExecutionRequest{
		Code:         string(code),
		Language:     types.Language(*language),
		SessionToken: token,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Success {
		os.Exit(1)
	}
}

func runStubs(args []string) {
	fs := flag.NewFlagSet("stubs", flag.ExitOnError)
	registryPath := fs.String("registry", "", "Tool catalog file (YAML)")
	fs.Parse(args)

	if *registryPath == "" {
		fmt.Fprintln(os.Stderr, "stubs requires --registry")
		os.Exit(1)
	}

	tools, err := loadCatalog(*registryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load tool catalog: %v\n", err)
		os.Exit(1)
	}

	orch, err := codexec.New(codexec.WithLogger(zap.NewNop()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer orch.Close()

	if _, errs := orch.InitializeTools(tools); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Tool rejected: %v\n", e)
		}
	}

	reg := orch.Registry()
	for _, server := range reg.Servers() {
		for _, tool := range reg.Tools(server) {
			stub, err := reg.Stub(server, tool)
			if err != nil {
				continue
			}
			fmt.Printf("=== servers/%s/%s.ts ===\n%s\n", server, tool, stub)
		}
	}
	fmt.Printf("baseline: ~%d tokens, discovery: ~%d tokens\n",
		reg.BaselineTokens(), reg.DiscoveryTokens())
}
