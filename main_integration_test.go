package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/handlers"
	"github.com/example/pneumoscan/internal/history"
	"github.com/example/pneumoscan/internal/inference"
	"github.com/example/pneumoscan/internal/repository"
	"github.com/example/pneumoscan/internal/session"
)

func TestServerGracefulShutdownCompletesInFlightAnalysis(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	inferenceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		_, _ = w.Write([]byte(`{"prediction":"Viral Pneumonia","confidence":0.81}`))
	}))
	defer inferenceServer.Close()

	store := history.NewStore(repository.NewMemoryKV(), history.DefaultKey, logger)
	client := inference.NewHTTPClient(inferenceServer.URL, inferenceServer.Client(), logger)
	registry := session.NewRegistry(client, store, logger, 0)

	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, registry, store, logger)

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	httpClient := &http.Client{Timeout: 2 * time.Second}
	base := "http://" + addr
	id := createSessionWithFile(t, httpClient, base)

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending analyze request")
		resp, err := httpClient.Post(base+"/sessions/"+id+"/analyze", "application/json", nil)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
		t.Log("inference request started")
	case <-time.After(2 * time.Second):
		t.Fatal("inference request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released inference request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	if log := store.ReadAll(context.Background()); len(log) != 1 || log[0].Prediction != "Viral Pneumonia" {
		t.Fatalf("expected the in-flight analysis to be recorded, got %+v", log)
	}
}

func createSessionWithFile(t *testing.T, client *http.Client, base string) string {
	t.Helper()

	resp, err := client.Post(base+"/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	defer resp.Body.Close()
	var created struct {
		Session session.Snapshot `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="chest.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = writer.Close()

	req, err := http.NewRequest(http.MethodPost, base+"/sessions/"+created.Session.ID+"/file?source=picker", body)
	if err != nil {
		t.Fatalf("failed to build upload: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	upload, err := client.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer upload.Body.Close()
	if upload.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(upload.Body)
		t.Fatalf("upload rejected: %d %s", upload.StatusCode, b)
	}
	return created.Session.ID
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
