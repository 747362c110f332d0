package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	"github.com/vantage-sec/gatehouse/pkg/abuse"
	"github.com/vantage-sec/gatehouse/pkg/admission"
	"github.com/vantage-sec/gatehouse/pkg/audit"
	"github.com/vantage-sec/gatehouse/pkg/config"
	"github.com/vantage-sec/gatehouse/pkg/injection"
	"github.com/vantage-sec/gatehouse/pkg/ratelimit"
	"github.com/vantage-sec/gatehouse/pkg/telemetry"
)

const Version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admissiond scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Gatehouse v%s\n", Version)
		fmt.Println("Abuse & injection admission service for LLM API calls")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Gatehouse v%s - LLM request admission service\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  admissiond serve          Start the HTTP admission daemon")
	fmt.Println("  admissiond scan <text>    Scan text for injection/homoglyph risk")
	fmt.Println("  admissiond version        Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  GATEHOUSE_LISTEN_ADDR          HTTP listen address (default :8080)")
	fmt.Println("  GATEHOUSE_POLICY_FILE          YAML tier-policy overrides")
	fmt.Println("  GATEHOUSE_REDIS_ADDR           Shared Redis limiter (default: in-memory)")
	fmt.Println("  GATEHOUSE_AUDIT_LOG            JSONL audit log path")
	fmt.Println("  GATEHOUSE_AUDIT_POSTGRES_DSN   Postgres audit sink (overrides JSONL)")
	fmt.Println("  GATEHOUSE_LIMITER_FAIL_CLOSED  Deny when limiter is unreachable")
}

// buildService assembles the admission facade from configuration.
func buildService(cfg *config.Config) (*admission.Service, func()) {
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	if cfg.PolicyPath != "" {
		log.Printf("[STARTUP] Tier policy loaded from %s", cfg.PolicyPath)
	}

	var cleanups []func()

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewRedis(client, cfg.LimiterMaxRequests, cfg.LimiterWindow)
		cleanups = append(cleanups, func() { client.Close() })
		log.Printf("[STARTUP] Rate limiter: redis (%s)", cfg.RedisAddr)
	} else {
		mem := ratelimit.NewMemory(ratelimit.Config{
			MaxRequests: cfg.LimiterMaxRequests,
			Window:      cfg.LimiterWindow,
		})
		limiter = mem
		cleanups = append(cleanups, mem.Stop)
		log.Println("[STARTUP] Rate limiter: in-memory")
	}

	var sink audit.Sink
	switch {
	case cfg.AuditPostgresDSN != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := audit.NewPostgres(ctx, cfg.AuditPostgresDSN)
		cancel()
		if err != nil {
			log.Fatalf("[STARTUP] FATAL: %v", err)
		}
		sink = pg
		cleanups = append(cleanups, pg.Close)
		log.Println("[STARTUP] Audit sink: postgres")
	case cfg.AuditLogPath != "":
		jl, err := audit.NewJSONL(cfg.AuditLogPath)
		if err != nil {
			log.Fatalf("[STARTUP] FATAL: %v", err)
		}
		sink = jl
		cleanups = append(cleanups, func() { jl.Close() })
		log.Printf("[STARTUP] Audit sink: jsonl (%s)", cfg.AuditLogPath)
	default:
		sink = audit.Nop{}
		log.Println("[STARTUP] Audit sink: disabled")
	}

	ledger := abuse.NewLedger(policy)
	controller := abuse.NewController(policy, ledger, limiter, cfg.LimiterFailClosed)

	svc := admission.New(admission.Config{
		Controller:     controller,
		Monitor:        abuse.NewMonitor(ledger),
		Dispatcher:     audit.NewDispatcher(sink, cfg.AuditCapacity),
		Counters:       &telemetry.Counters{},
		MaxInputLength: cfg.MaxInputLength,
	})

	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return svc, cleanup
}

func runServer() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	svc, cleanup := buildService(cfg)
	defer cleanup()

	// Periodic ledger sweep: prune stale entries, evict idle users.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.Sweep()
			case <-sweepDone:
				return
			}
		}
	}()
	defer close(sweepDone)

	app := newApp(svc)

	log.Printf("[STARTUP] Gatehouse v%s listening on %s", Version, cfg.ListenAddr)
	log.Printf("[STARTUP] Endpoints:")
	log.Printf("  POST /v1/admission/check   - Full admission decision")
	log.Printf("  POST /v1/admission/start   - Record a started request")
	log.Printf("  POST /v1/admission/end     - Release a concurrency slot")
	log.Printf("  POST /v1/scan              - Standalone validation + injection scan")
	log.Printf("  GET  /v1/usage/:user       - Usage snapshot")
	log.Printf("  GET  /v1/abuse/:user       - Advisory abuse patterns")
	log.Printf("  GET  /health               - Health check")
	log.Printf("  GET  /stats                - Process counters")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

func newApp(svc *admission.Service) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Gatehouse",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Get("/stats", func(c fiber.Ctx) error {
		return c.JSON(svc.Stats())
	})

	// Full admission decision. On allowed=true the caller holds one
	// concurrency slot and must POST /v1/admission/end when done.
	app.Post("/v1/admission/check", func(c fiber.Ctx) error {
		var req struct {
			UserID string `json:"user_id"`
			Model  string `json:"model"`
			Input  string `json:"input"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.UserID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "user_id field is required"})
		}

		result := svc.Check(c.Context(), req.UserID, req.Model, req.Input)
		status := 200
		if !result.Allowed {
			status = 429
			if result.Stage != admission.StageAdmission {
				status = 400
			}
		}
		return c.Status(status).JSON(result)
	})

	// Book usage for a request that was admitted and dispatched.
	app.Post("/v1/admission/start", func(c fiber.Ctx) error {
		var req struct {
			UserID      string `json:"user_id"`
			Model       string `json:"model"`
			InputTokens int    `json:"input_tokens"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.UserID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "user_id field is required"})
		}
		svc.RecordStart(req.UserID, req.Model, req.InputTokens)
		return c.JSON(fiber.Map{"recorded": true})
	})

	// Release the concurrency slot taken by an allowed check.
	app.Post("/v1/admission/end", func(c fiber.Ctx) error {
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.UserID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "user_id field is required"})
		}
		svc.RecordEnd(req.UserID)
		return c.JSON(fiber.Map{"recorded": true})
	})

	// Standalone scan: structural validation plus injection detection,
	// no ledger interaction.
	app.Post("/v1/scan", func(c fiber.Ctx) error {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}

		vr := svc.ValidateStructure(req.Text)
		if !vr.Valid {
			return c.JSON(fiber.Map{
				"valid":  false,
				"reason": vr.Reason,
			})
		}
		iv := svc.DetectInjection(req.Text)
		return c.JSON(fiber.Map{
			"valid":             true,
			"is_safe":           iv.IsSafe,
			"risk_score":        iv.RiskScore,
			"risk_level":        iv.RiskLevel,
			"detected_patterns": iv.DetectedPatterns,
			"sanitized_text":    iv.SanitizedText,
		})
	})

	app.Get("/v1/usage/:user", func(c fiber.Ctx) error {
		return c.JSON(svc.Snapshot(c.Params("user")))
	})

	app.Get("/v1/abuse/:user", func(c fiber.Ctx) error {
		abusive, patterns := svc.DetectPatterns(c.Params("user"))
		if patterns == nil {
			patterns = []string{}
		}
		return c.JSON(fiber.Map{
			"is_abusive": abusive,
			"patterns":   patterns,
		})
	})

	return app
}

// runCLIScan validates and scores a single input from the command line.
func runCLIScan(text string) {
	out := map[string]any{}
	if vr := injection.ValidateStructure(text, 0); !vr.Valid {
		out["valid"] = false
		out["reason"] = vr.Reason
	} else {
		iv := injection.Detect(text)
		out["valid"] = true
		out["is_safe"] = iv.IsSafe
		out["risk_score"] = iv.RiskScore
		out["risk_level"] = iv.RiskLevel
		out["detected_patterns"] = iv.DetectedPatterns
		out["sanitized_text"] = iv.SanitizedText
	}

	encoded, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(encoded))
}
