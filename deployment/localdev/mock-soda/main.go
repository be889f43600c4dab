// Local development mock: serves the two SODA datasets with a scripted
// incident lifecycle and accepts CoT frames on a plain TCP listener so the
// bridge can be exercised end to end without touching the real feeds.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

type rawIncident struct {
	TrafficReportID string `json:"traffic_report_id"`
	PublishedDate   string `json:"published_date"`
	IssueReported   string `json:"issue_reported"`
	Latitude        string `json:"latitude"`
	Longitude       string `json:"longitude"`
	Address         string `json:"address"`
	Status          string `json:"traffic_report_status"`
}

const sodaTimeLayout = "2006-01-02T15:04:05.000"

// script progresses each incident through active polls, archived polls,
// then absence, cycling forever so repeated runs keep producing
// create/close transitions.
type script struct {
	mu    sync.Mutex
	polls int
}

func (s *script) incidents(dataset string) []rawIncident {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	phase := (s.polls / 3) % 3 // 0 active, 1 archived, 2 absent
	now := time.Now().UTC().Format(sodaTimeLayout)

	if dataset == "wpu4-x69d" {
		switch phase {
		case 0:
			return []rawIncident{
				{TrafficReportID: "FIRE-1001", PublishedDate: now, IssueReported: "Structure Fire", Latitude: "30.2712", Longitude: "-97.7431", Address: "400 W 2ND ST", Status: "ACTIVE"},
				{TrafficReportID: "FIRE-1002", PublishedDate: now, IssueReported: "Brush Fire", Latitude: "30.3304", Longitude: "-97.6999", Address: "E 51ST ST / BERKMAN DR", Status: "ACTIVE"},
			}
		case 1:
			return []rawIncident{
				{TrafficReportID: "FIRE-1001", PublishedDate: now, IssueReported: "Structure Fire", Latitude: "30.2712", Longitude: "-97.7431", Address: "400 W 2ND ST", Status: "ARCHIVED"},
			}
		default:
			return []rawIncident{}
		}
	}

	switch phase {
	case 0:
		return []rawIncident{
			{TrafficReportID: "TRF-2001", PublishedDate: now, IssueReported: "Crash Urgent", Latitude: "30.2500", Longitude: "-97.7500", Address: "S LAMAR BLVD / BARTON SPRINGS RD", Status: "ACTIVE"},
			// malformed on purpose: exercises the rejection path
			{TrafficReportID: "TRF-2002", PublishedDate: now, IssueReported: "Stalled Vehicle", Latitude: "", Longitude: "-97.70", Address: "IH 35 SVRD SB", Status: "ACTIVE"},
		}
	case 1:
		return []rawIncident{
			{TrafficReportID: "TRF-2001", PublishedDate: now, IssueReported: "Crash Urgent", Latitude: "30.2500", Longitude: "-97.7500", Address: "S LAMAR BLVD / BARTON SPRINGS RD", Status: "ARCHIVED"},
		}
	default:
		return []rawIncident{}
	}
}

func main() {
	var httpAddr, takAddr string
	flag.StringVar(&httpAddr, "http", ":8081", "SODA mock listen address")
	flag.StringVar(&takAddr, "tak", ":8087", "TAK mock listen address")
	flag.Parse()

	logger := log.New(log.Writer(), "soda-mock ", log.LstdFlags|log.Lmicroseconds)
	s := &script{}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/resource/wpu4-x69d.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.incidents("wpu4-x69d"))
	})
	mux.HandleFunc("/resource/dx9v-zd7x.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.incidents("dx9v-zd7x"))
	})

	go serveTAK(logger, takAddr)

	srv := &http.Server{
		Addr:    httpAddr,
		Handler: logRequests(logger, mux),
	}
	logger.Printf("SODA mock on %s, TAK mock on %s", httpAddr, takAddr)
	logger.Printf("point the bridge at SODA_BASE_URL=http://localhost%s/resource COT_URL=tcp://localhost%s", httpAddr, takAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// serveTAK accepts connections and echoes each received CoT frame to the
// log, one per line.
func serveTAK(logger *log.Logger, addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("tak listener: %v", err)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Printf("tak accept: %v", err)
			continue
		}
		go func(c net.Conn) {
			defer c.Close()
			logger.Printf("tak client connected from %s", c.RemoteAddr())
			scanner := bufio.NewScanner(c)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			scanner.Split(splitEvents)
			for scanner.Scan() {
				logger.Printf("cot <- %s", scanner.Text())
			}
			logger.Printf("tak client %s disconnected", c.RemoteAddr())
		}(conn)
	}
}

// splitEvents tokenizes the stream on </event> boundaries.
func splitEvents(data []byte, atEOF bool) (int, []byte, error) {
	const closer = "</event>"
	for i := 0; i+len(closer) <= len(data); i++ {
		if string(data[i:i+len(closer)]) == closer {
			return i + len(closer), data[:i+len(closer)], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
