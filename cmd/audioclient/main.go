package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stream audio in chunks to simulate real-time streaming.
// At 16kHz 16-bit mono, 1024 samples = 2048 bytes = 64ms.
const frameSamples = 1024

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	server := flag.String("server", "http://localhost:8080", "Service base URL")
	tenantID := flag.String("tenant", "tenant-demo", "Tenant ID")
	start := flag.Bool("start", true, "Start the session before streaming")
	stop := flag.Bool("stop", true, "Stop the session after streaming")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	samples, sampleRate, err := readWAV(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load audio file")
	}
	if sampleRate != 16000 {
		log.Warn().Int("sampleRate", sampleRate).Msg("Sample rate differs from the 16 kHz the service expects")
	}

	base := strings.TrimRight(*server, "/")
	sessionURL := base + "/v1/sessions/" + url.PathEscape(*tenantID)

	if *start {
		if err := post(sessionURL + "/start"); err != nil {
			log.Fatal().Err(err).Msg("Failed to start session")
		}
		log.Info().Str("tenantId", *tenantID).Msg("Session started")
		// Give the run a moment to open its push source.
		time.Sleep(200 * time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(sessionURL, "http") + "/audio"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", wsURL).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", wsURL).Msg("Connected")

	interval := time.Duration(frameSamples) * time.Second / time.Duration(sampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()
	var frames, totalBytes int
	buf := make([]byte, frameSamples*2)
	for pos := 0; pos < len(samples); pos += frameSamples {
		end := min(pos+frameSamples, len(samples))
		n := (end - pos) * 2
		for i, v := range samples[pos:end] {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			log.Error().Err(err).Int("frames", frames).Msg("Failed to send frame")
			break
		}
		frames++
		totalBytes += n
		if frames%50 == 0 {
			log.Info().Int("frames", frames).Int("bytes", totalBytes).Msg("Streaming")
		}
		<-ticker.C
	}

	log.Info().
		Int("frames", frames).
		Int("bytes", totalBytes).
		Dur("elapsed", time.Since(startTime)).
		Msg("Finished streaming")

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	if *stop {
		// Let the recognizer flush its last results.
		time.Sleep(2 * time.Second)
		if err := post(sessionURL + "/stop"); err != nil {
			log.Fatal().Err(err).Msg("Failed to stop session")
		}
		log.Info().Str("tenantId", *tenantID).Msg("Session stopped")
	}
}

func readWAV(path string) ([]int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", path)
	}
	if dec.BitDepth != 16 || dec.NumChans != 1 {
		return nil, 0, fmt.Errorf("%s: need 16-bit mono, got %d-bit %d channels", path, dec.BitDepth, dec.NumChans)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	return buf.Data, int(dec.SampleRate), nil
}

func post(u string) error {
	resp, err := http.Post(u, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", u, resp.Status)
	}
	return nil
}
