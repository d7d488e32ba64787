package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/config"
)

const commandTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is sent by browsers: a calibration action or "cancel".
type WSMessage struct {
	Action string `json:"action"` // set_pressure, set_spc, spc_status, cancel
	Value  int    `json:"value,omitempty"`
}

// WSResponse is pushed to browsers.
type WSResponse struct {
	Type     string             `json:"type"` // reading, result, progress, complete, error
	Reading  *co2.Reading       `json:"reading,omitempty"`
	Result   *co2.CommandResult `json:"result,omitempty"`
	Progress float64            `json:"progress,omitempty"`
	Message  string             `json:"message,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) sendError(msg string) {
	if err := c.send(WSResponse{Type: "error", Message: msg}); err != nil {
		log.Printf("web: websocket write error: %v", err)
	}
}

// webServer keeps the latest reading and serves it over HTTP and websockets.
type webServer struct {
	relay *commandRelay

	spcInterval time.Duration
	spcPolls    int

	mu      sync.RWMutex
	last    co2.Reading
	have    bool
	status  string
	clients map[*wsClient]struct{}
}

func newWebServer(relay *commandRelay) *webServer {
	return &webServer{
		relay:       relay,
		spcInterval: 2 * time.Second,
		spcPolls:    30,
		status:      "unknown",
		clients:     map[*wsClient]struct{}{},
	}
}

// onReading handles one payload from the reading topic.
func (s *webServer) onReading(payload []byte) {
	var r co2.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Printf("web: reading unmarshal error: %v", err)
		return
	}
	s.mu.Lock()
	s.last = r
	s.have = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	// Runs inside the MQTT handler; a slow browser must not stall the client.
	go s.broadcast(r, clients)
}

func (s *webServer) broadcast(r co2.Reading, clients []*wsClient) {
	for _, c := range clients {
		if err := c.send(WSResponse{Type: "reading", Reading: &r}); err != nil {
			log.Debugf("web: dropping websocket client: %v", err)
			s.removeClient(c)
			c.conn.Close()
		}
	}
}

func (s *webServer) onStatus(payload []byte) {
	s.mu.Lock()
	s.status = string(payload)
	s.mu.Unlock()
}

func (s *webServer) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *webServer) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *webServer) handleCO2(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	last, have := s.last, s.have
	s.mu.RUnlock()

	if !have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(last); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *webServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"producer": status})
}

// handleWS serves the live feed and relays calibration requests to the
// producer. At most one calibration runs per connection.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn}
	s.addClient(c)
	defer s.removeClient(c)

	s.mu.RLock()
	last, have := s.last, s.have
	s.mu.RUnlock()
	if have {
		c.send(WSResponse{Type: "reading", Reading: &last})
	}

	var (
		cancel  context.CancelFunc = func() {}
		running sync.WaitGroup
	)
	defer func() {
		cancel()
		running.Wait()
	}()

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debugf("web: websocket read error: %v", err)
			return
		}

		switch msg.Action {
		case co2.ActionSetPressure, co2.ActionSPCStatus, co2.ActionSetSPC:
			cancel()
			running.Wait()
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			running.Add(1)
			go func(msg WSMessage) {
				defer running.Done()
				s.runCalibration(ctx, c, msg)
			}(msg)

		case "cancel":
			log.Printf("web: calibration cancelled by user")
			cancel()

		default:
			c.sendError(fmt.Sprintf("unknown action %q", msg.Action))
		}
	}
}

func (s *webServer) runCalibration(ctx context.Context, c *wsClient, msg WSMessage) {
	if msg.Action != co2.ActionSetSPC {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		res, err := s.relay.Do(ctx, msg.Action, msg.Value)
		if err != nil && res.ID == "" {
			c.sendError(err.Error())
			return
		}
		c.send(WSResponse{Type: "result", Result: &res})
		return
	}

	err := runSinglePointCorrection(ctx, s.relay, msg.Value, s.spcInterval, s.spcPolls, func(p SPCProgress) {
		c.send(WSResponse{Type: "progress", Progress: 100 * float64(p.Poll) / float64(p.Polls)})
	})
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.send(WSResponse{Type: "complete", Message: fmt.Sprintf("single point correction at %d ppm finished", msg.Value)})
}

func (s *webServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/co2", s.handleCO2)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// RunWeb subscribes to the CO2 topics and serves the dashboard API.
func RunWeb() error {
	cfg := config.Get()
	SetupLogging(cfg.LogLevel)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "MQTT connect")
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	relay := newCommandRelay(cfg.MQTTClientIDWeb, mqttPublisher(client, cfg.TopicCO2Command))
	srv := newWebServer(relay)

	subs := map[string]func([]byte){
		cfg.TopicCO2:              srv.onReading,
		cfg.TopicCO2Status:        srv.onStatus,
		cfg.TopicCO2CommandResult: relay.deliver,
	}
	for topic, fn := range subs {
		fn := fn
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			fn(msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "subscribe %s", topic)
		}
		log.Printf("web: subscribed to %s", topic)
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, srv.routes())
}

// mqttPublisher returns a publish function for commandRelay.
func mqttPublisher(client mqtt.Client, topic string) func([]byte) error {
	return func(payload []byte) error {
		token := client.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(commandTimeout) {
			return errors.New("publish timed out")
		}
		return token.Error()
	}
}
