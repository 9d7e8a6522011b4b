// Command keeper is the operator tool for a running vaultgate instance: it
// rolls rounds and drives the provider settlement legs over the admin API.
//
// Usage:
//
//	keeper -addr http://localhost:8080 -admin-key KEY roll
//	keeper -addr http://localhost:8080 -admin-key KEY purchase 0xAsset
//	keeper -addr http://localhost:8080 -admin-key KEY settle 0xAsset
//	keeper -addr http://localhost:8080 state
//	keeper -addr http://localhost:8080 -admin-key KEY pending
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "gateway base URL")
	adminKey := flag.String("admin-key", os.Getenv("VAULTGATE_AUTH_ADMIN_KEY"), "admin API key")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
	}

	k := &keeper{
		addr:     *addr,
		adminKey: *adminKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "roll":
		err = k.post("/v1/admin/roll", nil)
	case "purchase":
		err = k.post("/v1/admin/purchase", map[string]string{"asset": requireArg(1, "asset address")})
	case "settle":
		err = k.post("/v1/admin/settle", map[string]string{"asset": requireArg(1, "asset address")})
	case "state":
		err = k.get("/v1/vault")
	case "rounds":
		err = k.get("/v1/rounds")
	case "pending":
		err = k.get("/v1/admin/pending")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type keeper struct {
	addr     string
	adminKey string
	client   *http.Client
}

func (k *keeper) post(path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, k.addr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return k.do(req)
}

func (k *keeper) get(path string) error {
	req, err := http.NewRequest(http.MethodGet, k.addr+path, nil)
	if err != nil {
		return err
	}
	return k.do(req)
}

func (k *keeper) do(req *http.Request) error {
	if k.adminKey != "" {
		req.Header.Set("X-Admin-Key", k.adminKey)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(prettyJSON(raw))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return nil
}

func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func requireArg(i int, what string) string {
	if flag.NArg() <= i {
		fmt.Fprintf(os.Stderr, "missing argument: %s\n", what)
		usage()
	}
	return flag.Arg(i)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keeper [-addr URL] [-admin-key KEY] roll|purchase <asset>|settle <asset>|state|rounds|pending")
	os.Exit(2)
}
