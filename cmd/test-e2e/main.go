package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	ws "nhooyr.io/websocket"

	"yuzu/discussion/internal/streamws"
)

func main() {
	base := flag.String("http", "http://localhost:8080", "server base URL")
	grpcAddr := flag.String("grpc", "localhost:9090", "grpc health address")
	topic := flag.String("topic", "公司新品上市预算被削减一半，请讨论如何分配剩余预算。", "discussion topic")
	text := flag.String("text", "我建议先明确目标用户，再按渠道效果分配预算。", "human turn to send")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("=== E2E Discussion Test ===\n")

	// Step 0: readiness over grpc
	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc: %v", err)
	}
	defer conn.Close()
	for _, svc := range []string{"", "discussion.llm"} {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			fmt.Printf("[0] health %q: %v\n", svc, err)
			continue
		}
		fmt.Printf("[0] health %q: %s\n", svc, resp.GetStatus())
	}

	// Step 1: create session
	fmt.Println("[1] Creating session...")
	var created struct {
		SessionID   string   `json:"session_id"`
		StreamToken string   `json:"stream_token"`
		KeyPoints   []string `json:"key_points"`
	}
	if err := postJSON(ctx, *base+"/sessions", map[string]string{"topic": *topic, "job_title": "产品经理"}, &created); err != nil {
		log.Fatalf("create session: %v", err)
	}
	fmt.Printf("    session=%s key_points=%d\n", created.SessionID, len(created.KeyPoints))

	// Step 2: open the live stream
	fmt.Println("[2] Opening event stream...")
	wsURL := "ws" + strings.TrimPrefix(*base, "http") + "/sessions/" + created.SessionID + "/ws?token=" + created.StreamToken
	c, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("dial stream: %v", err)
	}
	defer c.Close(ws.StatusNormalClosure, "done")
	committed := make(chan struct{}, 16)
	go func() {
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var out streamws.Outbound
			if json.Unmarshal(data, &out) != nil {
				continue
			}
			printEvent(out)
			if out.Event.Type == "turn_committed" {
				committed <- struct{}{}
			}
		}
	}()

	// Step 3: talk over whoever opens, then submit a turn through the socket
	fmt.Println("[3] Waiting for the opening turn...")
	waitTurns(ctx, committed, 1)
	fmt.Println("[4] Activating microphone...")
	if err := postJSON(ctx, *base+"/sessions/"+created.SessionID+"/mic", nil, nil); err != nil {
		log.Fatalf("mic: %v", err)
	}
	fmt.Printf("[5] Sending human turn: %q\n", *text)
	if err := streamws.SendJSON(ctx, c, streamws.Message{Type: "human_turn", Text: *text}); err != nil {
		log.Fatalf("send turn: %v", err)
	}
	waitTurns(ctx, committed, 2)

	// Step 6: evaluate
	fmt.Println("[6] Requesting evaluation...")
	var ev struct {
		VoiceShare int `json:"voice_share"`
		Report     struct {
			OverallScore int      `json:"overallScore"`
			Suggestions  []string `json:"suggestions"`
			Fallback     bool     `json:"fallback"`
		} `json:"report"`
	}
	if err := postJSON(ctx, *base+"/sessions/"+created.SessionID+"/evaluate", nil, &ev); err != nil {
		log.Fatalf("evaluate: %v", err)
	}
	fmt.Printf("    score=%d voice_share=%d%% fallback=%v\n", ev.Report.OverallScore, ev.VoiceShare, ev.Report.Fallback)

	if err := postJSON(ctx, *base+"/sessions/"+created.SessionID+"/end", nil, nil); err != nil {
		log.Fatalf("end: %v", err)
	}
	fmt.Println("[*] Done")
	os.Exit(0)
}

func waitTurns(ctx context.Context, ch <-chan struct{}, n int) {
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-ctx.Done():
			log.Fatalf("timed out waiting for turns")
		}
	}
}

func postJSON(ctx context.Context, url string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printEvent(out streamws.Outbound) {
	ts := out.Event.Ts.Format("15:04:05.000")
	switch out.Event.Type {
	case "turn_committed":
		turn, _ := out.Event.Payload["turn"].(map[string]any)
		fmt.Printf("[%s] <- %v: %v\n", ts, turn["speaker_name"], turn["text"])
	case "speaker_active":
		fmt.Printf("[%s] <- speaker_active %v\n", ts, out.Event.Payload["persona_id"])
	default:
		fmt.Printf("[%s] <- %s\n", ts, out.Event.Type)
	}
}
