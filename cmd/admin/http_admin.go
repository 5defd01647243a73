package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	exitOn(printAdminCall(http.MethodGet, adminURL(*baseURL, "state", nil), 5*time.Second))
}

func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	scope := fs.String("scope", "world", "world | chat | players")
	_ = fs.Parse(args)

	q := url.Values{"scope": {*scope}}
	exitOn(printAdminCall(http.MethodPost, adminURL(*baseURL, "reset", q), 10*time.Second))
}

// adminURL builds <base>/admin/v1/<endpoint>[?query].
func adminURL(base, endpoint string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1/" + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// printAdminCall prints the JSON body of one loopback admin call. A non-2xx
// status is an error after the body has been printed.
func printAdminCall(method, u string, timeout time.Duration) error {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, u, resp.Status)
	}
	return nil
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
