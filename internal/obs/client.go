// Package obs controls OBS Studio through its v5 WebSocket protocol,
// used for stream automation: scene switches, source toggles, and
// recording control.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// obs-websocket opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// RecordingStatus reports the current recording output state.
type RecordingStatus struct {
	Recording bool    `json:"recording"`
	Paused    bool    `json:"paused"`
	Duration  float64 `json:"duration"`
	Bytes     int64   `json:"bytes"`
}

// Client is a request/response client for one OBS instance. All
// requests are serialized; event frames arriving between responses are
// skipped.
type Client struct {
	host     string
	port     int
	password string

	mu           sync.Mutex
	conn         *websocket.Conn
	currentScene string
}

// NewClient creates an unconnected client.
func NewClient(host string, port int, password string) *Client {
	return &Client{host: host, port: port, password: password}
}

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment"`
}

type responseData struct {
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData"`
}

// Connect dials OBS and completes the identify handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("ws://%s:%d", c.host, c.port)
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial obs at %s: %w", addr, err)
	}

	hello, err := readFrame(ctx, conn, opHello)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "no hello")
		return fmt.Errorf("obs hello: %w", err)
	}
	var hd helloData
	if err := json.Unmarshal(hello, &hd); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad hello")
		return fmt.Errorf("decode hello: %w", err)
	}

	identify := map[string]any{"rpcVersion": rpcVersion}
	if hd.Authentication != nil {
		identify["authentication"] = authResponse(c.password, hd.Authentication.Salt, hd.Authentication.Challenge)
	}
	if err := writeFrame(ctx, conn, opIdentify, identify); err != nil {
		conn.Close(websocket.StatusProtocolError, "identify failed")
		return fmt.Errorf("obs identify: %w", err)
	}
	if _, err := readFrame(ctx, conn, opIdentified); err != nil {
		conn.Close(websocket.StatusProtocolError, "not identified")
		return fmt.Errorf("obs identified: %w", err)
	}

	c.conn = conn
	slog.Info("Connected to OBS", "host", c.host, "port", c.port)

	if scene, err := c.currentProgramScene(ctx); err == nil {
		c.currentScene = scene
	}
	return nil
}

// Connected reports whether the identify handshake has completed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "client closing")
	c.conn = nil
	return err
}

// SwitchScene makes sceneName the program scene.
func (c *Client) SwitchScene(ctx context.Context, sceneName string) error {
	_, err := c.request(ctx, "SetCurrentProgramScene", map[string]any{
		"sceneName": sceneName,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.currentScene = sceneName
	c.mu.Unlock()
	slog.Info("Switched OBS scene", "scene", sceneName)
	return nil
}

// ToggleSource shows or hides a source in the current program scene.
func (c *Client) ToggleSource(ctx context.Context, sourceName string, visible bool) error {
	c.mu.Lock()
	scene := c.currentScene
	c.mu.Unlock()
	if scene == "" {
		return fmt.Errorf("no current scene known")
	}

	raw, err := c.request(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  scene,
		"sourceName": sourceName,
	})
	if err != nil {
		return err
	}
	var item struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("decode scene item id: %w", err)
	}

	_, err = c.request(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      item.SceneItemID,
		"sceneItemEnabled": visible,
	})
	return err
}

// StartRecording starts the recording output.
func (c *Client) StartRecording(ctx context.Context) error {
	_, err := c.request(ctx, "StartRecord", nil)
	return err
}

// StopRecording stops the recording output and returns the file path.
func (c *Client) StopRecording(ctx context.Context) (string, error) {
	raw, err := c.request(ctx, "StopRecord", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		OutputPath string `json:"outputPath"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode stop record response: %w", err)
	}
	return out.OutputPath, nil
}

// GetRecordingStatus reports the recording output state.
func (c *Client) GetRecordingStatus(ctx context.Context) (*RecordingStatus, error) {
	raw, err := c.request(ctx, "GetRecordStatus", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		OutputActive   bool    `json:"outputActive"`
		OutputPaused   bool    `json:"outputPaused"`
		OutputDuration float64 `json:"outputDuration"`
		OutputBytes    int64   `json:"outputBytes"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode record status: %w", err)
	}
	return &RecordingStatus{
		Recording: out.OutputActive,
		Paused:    out.OutputPaused,
		Duration:  out.OutputDuration,
		Bytes:     out.OutputBytes,
	}, nil
}

func (c *Client) currentProgramScene(ctx context.Context) (string, error) {
	raw, err := c.requestLocked(ctx, "GetCurrentProgramScene", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		SceneName string `json:"currentProgramSceneName"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.SceneName, nil
}

// request performs one serialized request/response exchange.
func (c *Client) request(ctx context.Context, requestType string, data map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(ctx, requestType, data)
}

func (c *Client) requestLocked(ctx context.Context, requestType string, data map[string]any) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to obs")
	}

	requestID := uuid.NewString()
	payload := map[string]any{
		"requestType": requestType,
		"requestId":   requestID,
	}
	if data != nil {
		payload["requestData"] = data
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := writeFrame(ctx, c.conn, opRequest, payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", requestType, err)
	}

	for {
		raw, err := readFrame(ctx, c.conn, opRequestResponse)
		if err != nil {
			return nil, fmt.Errorf("await %s response: %w", requestType, err)
		}
		var resp responseData
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", requestType, err)
		}
		if resp.RequestID != requestID {
			continue
		}
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed: code %d %s", requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(frame{Op: op, D: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, msg)
}

// readFrame reads until a frame with opcode want arrives, skipping
// event frames.
func readFrame(ctx context.Context, conn *websocket.Conn, want int) (json.RawMessage, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		if f.Op == opEvent {
			continue
		}
		if f.Op != want {
			return nil, fmt.Errorf("expected opcode %d, got %d", want, f.Op)
		}
		return f.D, nil
	}
}

// authResponse derives the identify authentication string:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	proof := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(proof[:])
}
