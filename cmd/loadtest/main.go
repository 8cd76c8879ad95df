package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type slot struct {
	ActivityID uint `json:"activity_id"`
	VariantID  uint `json:"variant_id"`
	TimeslotID uint `json:"timeslot_id"`
}

type reserveReq struct {
	slot
	UserID int64 `json:"user_id"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	activityID := flag.Uint("activity", 1, "flash activity id")
	variantID := flag.Uint("variant", 1, "variant id")
	timeslotID := flag.Uint("timeslot", 1, "timeslot id")
	populate := flag.Bool("populate", true, "populate tickets before test")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for populate endpoint")

	// 超卖测试参数：200 个用户并发抢有限名额
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	s := slot{ActivityID: *activityID, VariantID: *variantID, TimeslotID: *timeslotID}

	if *populate {
		body := map[string]any{"activity_id": s.ActivityID, "timeslot_id": s.TimeslotID}
		if err := doPOST(client, *baseURL+"/api/admin/flash/populate", body, map[string]string{
			"X-Admin-Token": *adminToken,
		}); err != nil {
			panic(fmt.Sprintf("populate failed: %v", err))
		}
		fmt.Println("populate ok")
	}

	tickets, err := getCount(client, *baseURL, s)
	if err != nil {
		panic(fmt.Sprintf("count failed: %v", err))
	}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: tickets=%d users=%d concurrency=%d\n", tickets, *nUsers, *concurrency)
	results := runReserve(client, *baseURL, *concurrency, *nUsers, func(idx int) reserveReq {
		return reserveReq{slot: s, UserID: int64(idx + 1)}
	})
	printSummary("oversell", results)

	left, err := getCount(client, *baseURL, s)
	if err != nil {
		fmt.Println("count check err:", err)
		left = -1
	} else {
		fmt.Println("tickets left:", left)
	}
	if err := checkOversell(tickets, left, results); err != nil {
		fmt.Println("FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("no oversell")

	// 2) 限流测试：同一个 user 重复抢（默认 1000/s 很难触发，可调低 RESERVE_RATE_LIMIT 再测）
	fmt.Println("\nstart rate limit test: same user (10001), 50 requests, concurrency 50")
	results2 := runReserve(client, *baseURL, 50, 50, func(int) reserveReq {
		return reserveReq{slot: s, UserID: 10001}
	})
	printSummary("rate_limit", results2)
}

func runReserve(client *http.Client, baseURL string, concurrency, total int, build func(idx int) reserveReq) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = reserveOnce(client, baseURL, build(idx))
		}(i)
	}

	wg.Wait()
	return results
}

func reserveOnce(client *http.Client, baseURL string, req reserveReq) Result {
	b, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/flash/reserve", bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// checkOversell 放行数不能超过装载的票据数，且放行数 + 剩余数必须等于装载数。
func checkOversell(tickets, left int64, results []Result) error {
	var granted int64
	for _, r := range results {
		if r.Err == nil && r.Status == http.StatusOK {
			granted++
		}
	}
	if granted > tickets {
		return fmt.Errorf("granted %d > tickets %d", granted, tickets)
	}
	if left >= 0 && granted+left != tickets {
		return fmt.Errorf("granted %d + left %d != tickets %d", granted, left, tickets)
	}
	return nil
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getCount 查询票据列表剩余长度。
func getCount(client *http.Client, baseURL string, s slot) (int64, error) {
	url := fmt.Sprintf("%s/api/flash/count?activity_id=%d&variant_id=%d&timeslot_id=%d",
		baseURL, s.ActivityID, s.VariantID, s.TimeslotID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Count int64 `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Count, nil
}
