package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	os.Exit(callServer(http.MethodGet, *baseURL, "/v1/status", nil, 5*time.Second))
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	os.Exit(callServer(http.MethodPost, *baseURL, "/admin/v1/snapshot", nil, 10*time.Second))
}

// importCmd posts a grid document, such as rollback -out, to the server.
func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	docPath := fs.String("doc", "", "grid document json (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*docPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -doc")
		os.Exit(2)
	}
	body, err := os.ReadFile(*docPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read -doc:", err)
		os.Exit(1)
	}
	os.Exit(callServer(http.MethodPost, *baseURL, "/v1/import", body, 10*time.Second))
}

// callServer prints the response body and returns the process exit code.
func callServer(method, baseURL, path string, body []byte, timeout time.Duration) int {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 2
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
