package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/kkkkikiki/burnpromo/internal/service"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock-contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64

	mu         sync.Mutex
	rejections map[string]int64
}

func (r *PerfResult) reject(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejections == nil {
		r.rejections = make(map[string]int64)
	}
	r.rejections[kind]++
}

const defaultTimeout = 30 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:   "perf-client",
		Short: "Fire concurrent claims for one burn transaction and check that exactly one wins",
		Args:  cobra.NoArgs,
		RunE:  run,
	}

	flags struct {
		baseURL  string
		token    string
		txHash   string
		campaign string
		workers  int
		requests int
		rps      int
	}
)

func main() {
	rootCmd.Flags().StringVar(&flags.baseURL, "url", "http://localhost:8080", "server base URL")
	rootCmd.Flags().StringVar(&flags.token, "token", os.Getenv("PERF_TOKEN"), "wallet session token (default $PERF_TOKEN)")
	rootCmd.Flags().StringVar(&flags.txHash, "tx", "", "burn transaction hash every request claims")
	rootCmd.Flags().StringVar(&flags.campaign, "campaign", "", "campaign to claim from")
	rootCmd.Flags().IntVar(&flags.workers, "workers", 50, "concurrent workers")
	rootCmd.Flags().IntVar(&flags.requests, "requests", 500, "total claim requests")
	rootCmd.Flags().IntVar(&flags.rps, "rps", 700, "request rate target")
	_ = rootCmd.MarkFlagRequired("tx")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateFlags() error {
	switch {
	case flags.token == "":
		return errors.New("a session token is required (--token or PERF_TOKEN)")
	case flags.workers <= 0:
		return fmt.Errorf("--workers must be positive, got %d", flags.workers)
	case flags.requests <= 0:
		return fmt.Errorf("--requests must be positive, got %d", flags.requests)
	case flags.rps <= 0:
		return fmt.Errorf("--rps must be positive, got %d", flags.rps)
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	if err := validateFlags(); err != nil {
		return err
	}

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        flags.workers * 4,
		MaxIdleConnsPerHost: flags.workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := service.NewRedemptionClient(httpClient, flags.baseURL)

	// ─── Banner ──────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Concurrent claim test")
	fmt.Println("==========================================")
	fmt.Printf("Server     : %s\n", flags.baseURL)
	fmt.Printf("Tx hash    : %s\n", flags.txHash)
	fmt.Printf("Requests   : %d\n", flags.requests)
	fmt.Printf("Workers    : %d\n", flags.workers)
	fmt.Printf("RPS        : %d\n", flags.rps)
	fmt.Println("==========================================")

	// ─── Rate limiter ───────────────────────────────────────────
	burst := flags.rps / flags.workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(flags.rps), burst)

	ctx := cmd.Context()
	var result PerfResult
	var wg sync.WaitGroup
	var remaining = int64(flags.requests)

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	start := time.Now()

	// ─── Workers ────────────────────────────────────────────────
	for i := 0; i < flags.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.AddInt64(&remaining, -1) >= 0 {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				doClaim(client, &result, latencyChan)
			}
		}()
	}

	wg.Wait()
	close(latencyChan)
	<-p95Done

	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Results")
	fmt.Println("==========================================")
	fmt.Printf("Duration           : %.2fs\n", totalDur.Seconds())
	fmt.Printf("Total requests     : %d\n", result.TotalRequests)
	fmt.Printf("Codes handed out   : %d\n", result.SuccessCount)
	fmt.Printf("Transport errors   : %d\n", result.ErrorCount)

	kinds := make([]string, 0, len(result.rejections))
	for kind := range result.rejections {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("Rejected %-10s: %d\n", kind, result.rejections[kind])
	}

	var avgLatency time.Duration
	if result.TotalRequests > 0 {
		avgLatency = time.Duration(result.LatencySum / result.TotalRequests)
	}
	fmt.Printf("Actual RPS         : %.2f\n", float64(result.TotalRequests)/totalDur.Seconds())
	fmt.Printf("Average latency    : %v\n", avgLatency)
	fmt.Printf("P95 latency        : %v\n", time.Duration(atomic.LoadInt64(&result.P95Latency)))
	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Data consistency")
	fmt.Println("==========================================")

	if err := verifyDataConsistency(client, result.SuccessCount); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		fmt.Println("==========================================")
		return err
	}
	fmt.Println("OK: one transaction, at most one code")
	fmt.Println("==========================================")
	return nil
}

func authorize[T any](req *connect.Request[T]) *connect.Request[T] {
	req.Header().Set("Authorization", "Bearer "+flags.token)
	return req
}

// doClaim performs a single Claim RPC and collects metrics.
func doClaim(client *service.RedemptionClient, result *PerfResult, latencyChan chan<- time.Duration) {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := authorize(connect.NewRequest(&service.ClaimRequest{
		TxHash:   flags.txHash,
		Campaign: flags.campaign,
	}))

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.Claim(ctx, req)
	latency := time.Since(start)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}

	if err != nil {
		var cerr *connect.Error
		if errors.As(err, &cerr) {
			if kind := cerr.Meta().Get(service.HeaderRejectionReason); kind != "" {
				result.reject(kind)
				return
			}
		}
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}
	if resp.Msg.Success && resp.Msg.PromoCode != "" {
		atomic.AddInt64(&result.SuccessCount, 1)
		return
	}
	atomic.AddInt64(&result.ErrorCount, 1)
}

// trackP95 maintains a best-effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else {
			// Replace random element (simple reservoir sampling)
			if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
				buf[idx] = lat.Nanoseconds()
			}
		}

		if len(buf) >= 20 && len(buf)%20 == 0 {
			storeP95(buf, result)
		}
	}
	if len(buf) > 0 {
		storeP95(buf, result)
	}
}

func storeP95(buf []int64, result *PerfResult) {
	sorted := append([]int64(nil), buf...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	atomic.StoreInt64(&result.P95Latency, sorted[idx])
}

// verifyDataConsistency checks that the wallet holds at most one redemption
// for the transaction and that the server agrees with what the run observed
func verifyDataConsistency(client *service.RedemptionClient, handedOut int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if handedOut > 1 {
		return fmt.Errorf("transaction %s produced %d codes", flags.txHash, handedOut)
	}

	resp, err := client.GetStatus(ctx, authorize(connect.NewRequest(&emptypb.Empty{})))
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	fmt.Printf("Has redeemed       : %v\n", resp.Msg.HasRedeemed)
	if resp.Msg.Redemption != nil {
		fmt.Printf("Latest tx          : %s\n", resp.Msg.Redemption.TxHash)
	}

	if handedOut == 1 && !resp.Msg.HasRedeemed {
		return errors.New("a code was handed out but the wallet has no redemption")
	}

	stats, err := client.GetCampaignStats(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return fmt.Errorf("failed to get campaign stats: %w", err)
	}
	fmt.Printf("Total codes        : %d\n", stats.Msg.Total)
	fmt.Printf("Available codes    : %d\n", stats.Msg.Available)
	fmt.Printf("Redemptions        : %d\n", stats.Msg.Redeemed)
	return nil
}
