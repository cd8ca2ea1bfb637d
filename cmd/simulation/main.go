package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/storely/storefront-api/internal/auth"
	"github.com/storely/storefront-api/internal/database"
	"github.com/storely/storefront-api/internal/metrics"
	"github.com/storely/storefront-api/internal/orders"
	"github.com/storely/storefront-api/internal/payments"
	"github.com/storely/storefront-api/internal/types"
	"github.com/storely/storefront-api/internal/webhooks"
	"github.com/storely/storefront-api/pkg/middleware"
)

const (
	minOrders     = 15
	maxOrders     = 120
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	jwtSecret     = "storefront-secret-key"
	webhookSecret = "whsec-test"

	// Fraction of checkouts that resubmit the same request with the same
	// idempotency key, imitating a storefront retrying on a flaky connection.
	retryEveryNth = 4
	// Fraction of orders cancelled before their payment webhook arrives.
	cancelEveryNth = 10
	// Fraction of payments that fail at the provider.
	failEveryNth = 8
)

var (
	products  = []string{"SKU-TSHIRT", "SKU-MUG", "SKU-POSTER", "SKU-HOODIE", "SKU-STICKERS"}
	providers = []string{"stripe", "paypal"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the storefront API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"create":  {name: "Create Order"},
			"get":     {name: "Get Order"},
			"cancel":  {name: "Cancel Order"},
			"webhook": {name: "Payment Webhook"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// createOrder submits a checkout request to the API under the given
// idempotency key. Returns the order number and whether the response was
// served as an idempotent replay.
func (sc *simulationClient) createOrder(order *types.CreateOrderRequest, idempotencyKey string) (string, bool, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(order)
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", false, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := sc.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Create order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", false, fmt.Errorf("create order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	replayed := resp.Header.Get("Idempotent-Replayed") == "true"

	var result struct {
		Success bool                `json:"success"`
		Data    types.OrderResponse `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", false, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.OrderNumber == "" {
		return "", false, fmt.Errorf("no order number in response: %s", string(respBody))
	}

	return result.Data.OrderNumber, replayed, nil
}

// getOrder retrieves the current state of an order
func (sc *simulationClient) getOrder(orderNumber string) (*types.OrderResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderNumber),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Get order response")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                `json:"success"`
		Data    types.OrderResponse `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// cancelOrder cancels an order that is still awaiting payment
func (sc *simulationClient) cancelOrder(orderNumber string) error {
	start := time.Now()
	defer func() {
		sc.stats["cancel"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders/%s/cancel", sc.baseURL, orderNumber),
		nil,
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Cancel order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("cancel order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// deliverWebhook posts a provider event to the webhook endpoint and returns
// the acknowledgement status
func (sc *simulationClient) deliverWebhook(provider string, event *webhooks.Event) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["webhook"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/webhooks/%s", sc.baseURL, provider),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", webhookSecret)

	resp, err := sc.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Webhook response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("webhook failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool         `json:"success"`
		Data    webhooks.Ack `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data.Status, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the checkout simulation
// It starts a local API server and simulates multiple concurrent storefront
// clients placing orders, retrying requests, and receiving payment webhooks
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Channel to collect created order numbers
	type createdOrder struct {
		orderNumber string
		provider    string
		replayed    bool
	}
	ordersChan := make(chan createdOrder, targetOrders*2)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				provider := providers[rand.Intn(len(providers))]
				request := randomCheckout(provider)
				idempotencyKey := uuid.New().String()

				orderNumber, _, err := simClient.createOrder(request, idempotencyKey)
				if err != nil {
					log.Error().Err(err).
						Int("worker_id", workerID).
						Msg("Failed to create order")
					simClient.stats["create"].failures++
					continue
				}
				ordersChan <- createdOrder{orderNumber: orderNumber, provider: provider}

				log.Info().
					Int("worker_id", workerID).
					Str("order_number", orderNumber).
					Str("provider", provider).
					Msg("Order created")

				// Every few checkouts, resubmit the same request under the
				// same key as a client retry. The API must serve the stored
				// response rather than place a second order.
				if j%retryEveryNth == 0 {
					replayNumber, replayed, err := simClient.createOrder(request, idempotencyKey)
					if err != nil {
						log.Error().Err(err).Msg("Failed to replay order")
						simClient.stats["create"].failures++
					} else {
						if replayNumber != orderNumber {
							log.Error().
								Str("original", orderNumber).
								Str("replay", replayNumber).
								Msg("Retry produced a different order")
						}
						ordersChan <- createdOrder{orderNumber: replayNumber, provider: provider, replayed: replayed}
					}
				}

				// Random sleep between orders
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}

	// Wait for all orders to be created
	wg.Wait()
	close(ordersChan)

	// Collect created orders, separating replays
	var orderNumbers []string
	var orderProviders []string
	replays := 0
	for created := range ordersChan {
		if created.replayed {
			replays++
			continue
		}
		orderNumbers = append(orderNumbers, created.orderNumber)
		orderProviders = append(orderProviders, created.provider)
	}

	log.Info().
		Int("orders_created", len(orderNumbers)).
		Int("idempotent_replays", replays).
		Msg("All orders created")

	// Collect statistics during processing
	stats := struct {
		TotalOrders    int
		Replays        int
		Cancelled      int
		PaidOrders     int
		FailedPayments int
		DuplicateAcks  int
		StaleAcks      int
		TotalValue     float64
		StartTime      time.Time
		Providers      map[string]int
		Statuses       map[string]int
	}{
		StartTime: time.Now(),
		Providers: make(map[string]int),
		Statuses:  make(map[string]int),
	}
	stats.TotalOrders = len(orderNumbers)
	stats.Replays = replays

	// Cancel a handful of orders before their payment confirmation arrives.
	// Their webhooks below should be recorded but skipped as stale.
	cancelled := make(map[string]bool)
	for i, orderNumber := range orderNumbers {
		if i%cancelEveryNth != cancelEveryNth-1 {
			continue
		}
		if err := simClient.cancelOrder(orderNumber); err != nil {
			log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to cancel order")
			simClient.stats["cancel"].failures++
			continue
		}
		cancelled[orderNumber] = true
		stats.Cancelled++
		log.Info().Str("order_number", orderNumber).Msg("Order cancelled before payment")
	}

	// Deliver payment webhooks. Every event is delivered twice to mimic the
	// provider's at-least-once retries; the second delivery must come back
	// as already_processed.
	for i, orderNumber := range orderNumbers {
		provider := orderProviders[i]
		eventType := webhooks.EventPaymentSucceeded
		if i%failEveryNth == failEveryNth-1 {
			eventType = webhooks.EventPaymentFailed
		}

		event := &webhooks.Event{
			ID:   fmt.Sprintf("evt_%s", uuid.New().String()),
			Type: eventType,
			Data: webhooks.EventPayload{
				OrderNumber: orderNumber,
				PaymentRef:  fmt.Sprintf("pi_%s", uuid.New().String()),
				Reason:      "card_declined",
			},
		}

		firstAck, err := simClient.deliverWebhook(provider, event)
		if err != nil {
			log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to deliver webhook")
			simClient.stats["webhook"].failures++
			continue
		}

		switch {
		case cancelled[orderNumber]:
			stats.StaleAcks++
		case eventType == webhooks.EventPaymentFailed:
			stats.FailedPayments++
		default:
			stats.PaidOrders++
		}

		secondAck, err := simClient.deliverWebhook(provider, event)
		if err != nil {
			log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to redeliver webhook")
			simClient.stats["webhook"].failures++
		} else if secondAck == "already_processed" {
			stats.DuplicateAcks++
		} else {
			log.Error().
				Str("order_number", orderNumber).
				Str("first_ack", firstAck).
				Str("second_ack", secondAck).
				Msg("Duplicate delivery was not deduplicated")
		}

		log.Info().
			Str("order_number", orderNumber).
			Str("event_type", eventType).
			Str("first_ack", firstAck).
			Str("second_ack", secondAck).
			Msg("Webhook delivered twice")
	}

	// Read back final order state
	for i, orderNumber := range orderNumbers {
		order, err := simClient.getOrder(orderNumber)
		if err != nil {
			log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to get order")
			simClient.stats["get"].failures++
			continue
		}
		stats.Statuses[order.Status]++
		stats.Providers[orderProviders[i]]++
		if order.Status == orders.StatusPaid {
			stats.TotalValue += order.TotalAmount
		}
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🛒 CHECKOUT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Order Statistics
------------------
Total Orders:       %d
Idempotent Replays: %d
Paid:               %d
Failed Payments:    %d
Cancelled Early:    %d
Duplicate Acks:     %d
Stale Webhooks:     %d
Paid Value:         $%.2f
Duration:           %v

🏦 Provider Distribution
----------------------
`, stats.TotalOrders, stats.Replays, stats.PaidOrders, stats.FailedPayments,
		stats.Cancelled, stats.DuplicateAcks, stats.StaleAcks,
		stats.TotalValue, duration.Round(time.Millisecond))

	// Print provider distribution with simple ASCII bar chart
	maxProviderCount := 0
	for _, count := range stats.Providers {
		if count > maxProviderCount {
			maxProviderCount = count
		}
	}

	for provider, count := range stats.Providers {
		barLength := int(float64(count) / float64(maxProviderCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-8s: %s (%d)\n", provider, bar, count)
	}

	fmt.Println("\n📦 Final Status Distribution")
	fmt.Println("--------------------------")
	for status, count := range stats.Statuses {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-16s: %s (%d)\n", status, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := float64(stats.PaidOrders) / float64(stats.TotalOrders) * 100
	log.Info().
		Float64("paid_rate", successRate).
		Int("total_orders", stats.TotalOrders).
		Int("paid_orders", stats.PaidOrders).
		Float64("paid_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// randomCheckout builds a checkout request with a random cart
func randomCheckout(provider string) *types.CreateOrderRequest {
	itemCount := rand.Intn(3) + 1
	items := make([]types.OrderItemRequest, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, types.OrderItemRequest{
			ProductRef: products[rand.Intn(len(products))],
			Quantity:   rand.Intn(4) + 1,
			UnitPrice:  float64(rand.Intn(9000)+500) / 100,
		})
	}

	return &types.CreateOrderRequest{
		Items:    items,
		Currency: "USD",
		Provider: provider,
		ShippingAddress: types.AddressRequest{
			Name:     "Simulation Shopper",
			Line1:    fmt.Sprintf("%d Commerce Street", rand.Intn(900)+1),
			City:     "Springfield",
			Postcode: fmt.Sprintf("%05d", rand.Intn(99999)),
			Country:  "US",
		},
	}
}

// startServer initializes and starts the storefront API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services. The payment client runs without simulated
	// outages so checkout failures in the summary reflect webhook outcomes
	// rather than provider chaos.
	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	collector := metrics.NewCollector(metrics.DefaultCapacity)
	orderService := orders.NewService(db, payments.NewDeterministicClient(), collector)
	webhookService := webhooks.NewService(db, orderService, collector)

	sweeper := webhooks.NewSweeper(db)
	go sweeper.Start(context.Background())

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	orderHandlers := orders.NewGinHandlers(orderService)
	webhookHandlers := webhooks.NewGinHandlers(webhookService)

	// Setup routes
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("/:order_number", orderHandlers.GetOrderHandler())
			orderGroup.POST("/:order_number/cancel", orderHandlers.CancelOrderHandler())
		}

		webhookGroup := v1.Group("/webhooks")
		webhookGroup.Use(middleware.WebhookAuth(webhookSecret))
		{
			webhookGroup.POST("/:provider", webhookHandlers.HandleEventHandler())
		}
	}

	// Start the server
	return router.Run(":8080")
}
