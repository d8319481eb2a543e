package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/abac/logger"
	"github.com/oarkflow/abac/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("abac-config - Configuration tool for abac")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  abac-config convert <input> <output>                    - Convert between formats")
	fmt.Println("  abac-config validate <file>                             - Validate configuration")
	fmt.Println("  abac-config stats <file>                                - Show configuration statistics")
	fmt.Println("  abac-config check <file> <subject> <object> <action> [attr=value ...]")
	fmt.Println("                                                          - One-shot enforcement check")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
	fmt.Println("Check attributes: department, location, mfa, ip, session_age (seconds)")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: abac-config convert <input> <output>")
		os.Exit(1)
	}

	cfg, err := abac.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	outputFile := os.Args[3]
	var data []byte
	switch strings.ToLower(filepath.Ext(outputFile)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		fmt.Printf("Unsupported output format for %s\n", outputFile)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error encoding config: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		fmt.Printf("Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: abac-config validate <file>")
		os.Exit(1)
	}

	cfg, err := abac.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	errs := cfg.Validate()
	for _, verr := range errs {
		fmt.Printf("  %s\n", verr.Error())
	}
	if len(errs) > 0 {
		fmt.Printf("Configuration has %d invalid rule(s)\n", len(errs))
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Rules: %d\n", len(cfg.Rules))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: abac-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := abac.NewConfigLoader().LoadFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	permissions := 0
	groupings := 0
	conditioned := 0
	for _, r := range cfg.Rules {
		switch r.Kind {
		case abac.KindPermission:
			permissions++
			if r.V3 != "" || r.V4 != "" || r.V5 != "" {
				conditioned++
			}
		case abac.KindGrouping:
			groupings++
		}
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Println()
	fmt.Println("Rules:")
	fmt.Printf("  Permissions: %d (%d with conditions)\n", permissions, conditioned)
	fmt.Printf("  Groupings:   %d\n", groupings)
	fmt.Println()
	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL:   %dms\n", cfg.Engine.DecisionCacheTTLMS)
	fmt.Printf("  Audit queue size:     %d\n", cfg.Engine.AuditQueueSize)
	fmt.Printf("  Audit queue policy:   %s\n", cfg.Engine.AuditQueuePolicy)
	fmt.Printf("  Max role depth:       %d\n", cfg.Engine.MaxRoleDepth)
	fmt.Printf("  Reload debounce:      %dms\n", cfg.Engine.ReloadDebounceMS)
}

func handleCheck() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: abac-config check <file> <subject> <object> <action> [attr=value ...]")
		os.Exit(1)
	}

	cfg, err := abac.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	lg := logger.NewNullLogger()
	store := abac.NewPolicyStore(stores.NewMemoryRuleStore(), lg, cfg.StoreOptions()...)
	if errs := abac.ApplyRules(ctx, store, cfg.Rules); len(errs) > 0 {
		for _, verr := range errs {
			fmt.Printf("  skipped: %s\n", verr.Error())
		}
	}
	if err := store.Load(ctx); err != nil {
		fmt.Printf("Error loading rules: %v\n", err)
		os.Exit(1)
	}

	opts, err := cfg.EnforcerOptions()
	if err != nil {
		fmt.Printf("Error building enforcer: %v\n", err)
		os.Exit(1)
	}
	enforcer := abac.NewEnforcer(store, append(opts, abac.WithLogger(lg))...)
	defer enforcer.Close()

	raw := parseCheckAttrs(os.Args[6:])
	d := enforcer.Explain(ctx, os.Args[3], os.Args[4], os.Args[5], abac.BuildContext(raw))

	if d.Allowed {
		fmt.Printf("ALLOWED: %s\n", d.Reason)
	} else {
		fmt.Printf("DENIED: %s\n", d.Reason)
	}
	for _, line := range d.Trace {
		fmt.Printf("  %s\n", line)
	}
	if !d.Allowed {
		os.Exit(2)
	}
}

func parseCheckAttrs(args []string) abac.RawRequest {
	raw := abac.RawRequest{Time: time.Now()}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch k {
		case "department":
			raw.Department = v
		case "location":
			raw.Location = v
		case "mfa":
			raw.MFAVerified, _ = strconv.ParseBool(v)
		case "ip":
			raw.RemoteAddr = v
		case "session_age":
			if secs, err := strconv.Atoi(v); err == nil {
				raw.SessionStartedAt = raw.Time.Add(-time.Duration(secs) * time.Second)
			}
		}
	}
	return raw
}
