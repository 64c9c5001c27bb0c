package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const loadSchema = `{"fields":[
	{"name":"name","type":"string"},
	{"name":"age","type":"number"},
	{"name":"email","type":"string","index":true}
]}`

// loadUser is the document the load test inserts
type loadUser struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Email string `json:"email"`
}

type loadStats struct {
	inserted, insertErrors int
	found, lookupErrors    int
	insertTime, findTime   time.Duration
}

// generateRandomName generates a random 6-letter name
func generateRandomName(r *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	name := make([]byte, 6)
	for i := range name {
		name[i] = letters[r.Intn(len(letters))]
	}
	// Capitalize first letter
	name[0] = name[0] - 32
	return string(name)
}

func newLoadCmd() *cobra.Command {
	var (
		serverURL string
		model     string
	)
	cmd := &cobra.Command{
		Use:   "load <number_of_users>",
		Short: "Insert users into a running server and find each one by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscan(args[0], &n); err != nil || n <= 0 {
				return fmt.Errorf("invalid number of users %q", args[0])
			}
			stats, err := runLoad(&http.Client{Timeout: 10 * time.Second}, serverURL, model, n, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if stats.insertErrors+stats.lookupErrors > 0 {
				return fmt.Errorf("%d inserts and %d lookups failed", stats.insertErrors, stats.lookupErrors)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "Server base URL")
	cmd.Flags().StringVar(&model, "model", "LoadUser", "Model the users are saved as")
	return cmd
}

func runLoad(client *http.Client, baseURL, model string, n int, out io.Writer) (*loadStats, error) {
	if err := postJSON(client, baseURL+"/models/"+model, []byte(loadSchema)); err != nil {
		return nil, fmt.Errorf("register model: %w", err)
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	stats := &loadStats{}
	emails := make([]string, 0, n)
	reportInterval := max(1, n/10)

	fmt.Fprintf(out, "Starting load test: inserting %d users to %s\n", n, baseURL)
	start := time.Now()
	for i := 0; i < n; i++ {
		name := generateRandomName(r)
		user := loadUser{
			Name:  name,
			Age:   r.Intn(82) + 18,
			Email: fmt.Sprintf("%s.%d@example.com", strings.ToLower(name), i),
		}
		body, err := json.Marshal(user)
		if err != nil {
			return nil, err
		}
		if err := postJSON(client, baseURL+"/models/"+model+"/documents", body); err != nil {
			stats.insertErrors++
			fmt.Fprintf(out, "Error inserting user %d (%s): %v\n", i+1, user.Name, err)
		} else {
			stats.inserted++
			emails = append(emails, user.Email)
		}
		if (i+1)%reportInterval == 0 || i == n-1 {
			elapsed := time.Since(start)
			fmt.Fprintf(out, "Progress: %d/%d users (%.1f%%) - Rate: %.1f users/sec\n",
				i+1, n, float64(i+1)/float64(n)*100, float64(i+1)/elapsed.Seconds())
		}
	}
	stats.insertTime = time.Since(start)

	start = time.Now()
	for _, email := range emails {
		if err := findOne(client, baseURL, model, email); err != nil {
			stats.lookupErrors++
			fmt.Fprintf(out, "Error finding %s: %v\n", email, err)
		} else {
			stats.found++
		}
	}
	stats.findTime = time.Since(start)

	fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(out, "LOAD TEST COMPLETE")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Successful inserts:    %d\n", stats.inserted)
	fmt.Fprintf(out, "Failed inserts:        %d\n", stats.insertErrors)
	fmt.Fprintf(out, "Found by email:        %d\n", stats.found)
	fmt.Fprintf(out, "Failed lookups:        %d\n", stats.lookupErrors)
	fmt.Fprintf(out, "Insert time:           %v\n", stats.insertTime)
	fmt.Fprintf(out, "Lookup time:           %v\n", stats.findTime)
	return stats, nil
}

func postJSON(client *http.Client, u string, body []byte) error {
	resp, err := client.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func findOne(client *http.Client, baseURL, model, email string) error {
	resp, err := client.Get(baseURL + "/models/" + model + "/find/email?one=true&value=" + url.QueryEscape(email))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
