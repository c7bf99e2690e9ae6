// Command stresstest fires concurrent transfers at a running server and
// checks that no money is created or lost. It registers its own users, so
// it can run against any instance.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yashasviy/peer-transfer-api/models"
)

const (
	// DefaultURL is the base URL of the API
	DefaultURL = "http://localhost:8080"

	// DefaultConcurrency is the number of recipients, one transfer each
	DefaultConcurrency = 50

	// DefaultOverdraw is the number of extra transfers that must be refused
	DefaultOverdraw = 10
)

// TestConfig holds the stress test configuration
type TestConfig struct {
	URL         string
	Concurrency int
	Overdraw    int
}

// TestResults tracks the outcomes of all requests
type TestResults struct {
	SuccessCount  int32
	RejectedCount int32
	ConflictCount int32
	ErrorCount    int32
	Duration      time.Duration
}

type user struct {
	name      string
	token     string
	accountID string
	balance   int64
}

type envelope struct {
	Status string            `json:"status"`
	Data   json.RawMessage   `json:"data"`
	Error  *models.ErrorBody `json:"error"`
}

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	config := TestConfig{}
	flag.StringVar(&config.URL, "url", DefaultURL, "API base URL")
	flag.IntVar(&config.Concurrency, "concurrent", DefaultConcurrency, "Number of recipients and concurrent transfers")
	flag.IntVar(&config.Overdraw, "overdraw", DefaultOverdraw, "Extra transfers beyond the sender's funds")
	flag.Parse()

	fmt.Println("  PEER TRANSFER API - CONCURRENT STRESS TEST")

	run := time.Now().Format("150405")
	sender, err := signup(config.URL, "sender"+run)
	if err != nil {
		log.Fatalf("Failed to create sender: %v", err)
	}
	recipients := make([]*user, config.Concurrency)
	for i := range recipients {
		if recipients[i], err = signup(config.URL, fmt.Sprintf("rcpt%s_%03d", run, i)); err != nil {
			log.Fatalf("Failed to create recipient %d: %v", i, err)
		}
	}

	amount := sender.balance / int64(config.Concurrency)
	if amount == 0 {
		log.Fatalf("Sender balance %s is too small for %d transfers", models.FormatMinorUnits(sender.balance), config.Concurrency)
	}
	total := config.Concurrency + config.Overdraw

	fmt.Printf("Endpoint:       %s\n", config.URL)
	fmt.Printf("Sender:         %s (%s)\n", sender.name, models.FormatMinorUnits(sender.balance))
	fmt.Printf("Transfers:      %d x %s to %d recipients\n", total, models.FormatMinorUnits(amount), config.Concurrency)
	fmt.Println("---------------------------------------------------------------")

	results := runStressTest(config.URL, sender, recipients, amount, total)
	if !verify(config.URL, sender, recipients, amount, total, results) {
		os.Exit(1)
	}
}

// runStressTest executes concurrent transfers and returns aggregated results
func runStressTest(baseURL string, sender *user, recipients []*user, amount int64, total int) TestResults {
	var (
		results TestResults
		wg      sync.WaitGroup
		start   = time.Now()
	)

	fmt.Printf("\nLaunching %d concurrent transfers...\n", total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(requestID int) {
			defer wg.Done()
			to := recipients[requestID%len(recipients)]
			executeTransfer(baseURL, sender, to.accountID, amount, requestID, &results)
		}(i)
	}

	wg.Wait()
	results.Duration = time.Since(start)
	return results
}

// executeTransfer sends a single transfer and updates results atomically
func executeTransfer(baseURL string, sender *user, to string, amount int64, requestID int, results *TestResults) {
	body := map[string]string{"to": to, "amount": models.FormatMinorUnits(amount)}
	code, env, err := call(http.MethodPost, baseURL+"/api/account/sendMoney", sender.token, body)
	if err != nil {
		log.Printf("[Request %d] HTTP error: %v", requestID, err)
		atomic.AddInt32(&results.ErrorCount, 1)
		return
	}

	switch code {
	case http.StatusOK:
		atomic.AddInt32(&results.SuccessCount, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddInt32(&results.RejectedCount, 1)
	case http.StatusConflict:
		atomic.AddInt32(&results.ConflictCount, 1)
	default:
		kind := ""
		if env.Error != nil {
			kind = env.Error.Kind
		}
		log.Printf("[Request %d] Unexpected status: %d %s", requestID, code, kind)
		atomic.AddInt32(&results.ErrorCount, 1)
	}
}

// verify prints the results and checks them against the balances the server
// reports afterwards.
func verify(baseURL string, sender *user, recipients []*user, amount int64, total int, results TestResults) bool {
	fmt.Println("                    TEST RESULTS")
	fmt.Printf("Duration:                     %v\n", results.Duration)
	fmt.Printf("Requests per second:          %.2f\n", float64(total)/results.Duration.Seconds())
	fmt.Printf("[SUCCESS]  Committed:                  %d\n", results.SuccessCount)
	fmt.Printf("[REJECTED] Insufficient funds:         %d\n", results.RejectedCount)
	fmt.Printf("[CONFLICT] Gave up after retries:      %d\n", results.ConflictCount)
	fmt.Printf("[ERROR]    Network/unexpected:         %d\n", results.ErrorCount)

	expected := int32(sender.balance / amount)
	if expected > int32(total) {
		expected = int32(total)
	}

	ok := true
	fail := func(format string, args ...any) {
		ok = false
		fmt.Printf("  * "+format+"\n", args...)
	}

	senderNow, err := balance(baseURL, sender)
	if err != nil {
		fail("could not read sender balance: %v", err)
		return false
	}
	var credited int64
	for _, r := range recipients {
		now, err := balance(baseURL, r)
		if err != nil {
			fail("could not read balance of %s: %v", r.name, err)
			return false
		}
		credited += now - r.balance
	}
	debited := sender.balance - senderNow
	committed := int64(results.SuccessCount) * amount

	if results.ConflictCount == 0 && results.ErrorCount == 0 && results.SuccessCount != expected {
		fail("expected %d committed transfers, got %d", expected, results.SuccessCount)
	}
	if debited != committed {
		fail("sender was debited %s but %s was committed", models.FormatMinorUnits(debited), models.FormatMinorUnits(committed))
	}
	if credited != debited {
		fail("recipients were credited %s but sender was debited %s", models.FormatMinorUnits(credited), models.FormatMinorUnits(debited))
	}
	if senderNow < 0 {
		fail("sender balance is negative: %s", models.FormatMinorUnits(senderNow))
	}

	if ok {
		fmt.Println("TEST PASSED: balances are conserved under concurrency")
		fmt.Println("  * No overdraft")
		fmt.Println("  * Every committed transfer credited exactly once")
	} else {
		fmt.Println("TEST FAILED: see above")
	}
	return ok
}

func signup(baseURL, name string) (*user, error) {
	creds := map[string]string{"username": name, "email": name + "@stress.test", "password": "stress-pass"}
	code, env, err := call(http.MethodPost, baseURL+"/api/user/register", "", creds)
	if err != nil {
		return nil, err
	}
	if code != http.StatusCreated {
		return nil, fmt.Errorf("register returned %d", code)
	}

	code, env, err = call(http.MethodPost, baseURL+"/api/user/login", "", creds)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("login returned %d", code)
	}
	var login struct {
		Token     string          `json:"token"`
		AccountID string          `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(env.Data, &login); err != nil {
		return nil, fmt.Errorf("decode login: %w", err)
	}
	minor, err := models.ToMinorUnits(login.Balance)
	if err != nil {
		return nil, fmt.Errorf("opening balance: %w", err)
	}
	return &user{name: name, token: login.Token, accountID: login.AccountID, balance: minor}, nil
}

func balance(baseURL string, u *user) (int64, error) {
	code, env, err := call(http.MethodGet, baseURL+"/api/account/balance", u.token, nil)
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, fmt.Errorf("balance returned %d", code)
	}
	var b struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(env.Data, &b); err != nil {
		return 0, err
	}
	if b.Balance.IsZero() {
		return 0, nil
	}
	return models.ToMinorUnits(b.Balance)
}

func call(method, url, token string, body any) (int, envelope, error) {
	var env envelope
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, env, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return 0, env, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, env, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, env, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, env, nil
}
