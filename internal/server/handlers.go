package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/Tyrowin/civic-chat/internal/hub"
	"github.com/Tyrowin/civic-chat/internal/logging"
)

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "civic-chat server is running!")
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// HealthzHandler reports the hub's active connection count as JSON.
func HealthzHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Connections: h.ActiveCount()}); err != nil {
			log := logging.Ctx(r.Context())
			log.Error().Err(err).Msg("Error writing health response")
		}
	}
}

// TestPageHandler serves a small browser client for the websocket endpoint at
// wsPath. It renders system notices and chat messages differently.
func TestPageHandler(wsPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if err := testPage.Execute(w, struct{ Path string }{Path: wsPath}); err != nil {
			log := logging.Ctx(r.Context())
			log.Error().Err(err).Msg("Error writing HTML response")
		}
	}
}

var testPage = template.Must(template.New("test").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>civic-chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .system { color: gray; font-style: italic; }
        .time { color: #999; font-size: 0.8em; margin-right: 6px; }
    </style>
</head>
<body>
    <h1>civic-chat WebSocket Test</h1>
    <p>Sign in to the web application first; the connection uses its session cookie.</p>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <script>
        const wsPath = {{.Path}};
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(className, text, timestamp) {
            const line = document.createElement('div');
            line.className = className;
            if (timestamp) {
                const time = document.createElement('span');
                time.className = 'time';
                time.textContent = new Date(timestamp).toLocaleTimeString();
                line.appendChild(time);
            }
            line.appendChild(document.createTextNode(text));
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(envelope) {
            if (envelope.type === 'system') {
                addLine('system', envelope.content, envelope.timestamp);
            } else if (envelope.type === 'message') {
                addLine('message', envelope.sender + ': ' + envelope.content, envelope.timestamp);
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + wsPath);

            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) {
                try {
                    render(JSON.parse(event.data));
                } catch (e) {
                    addLine('system', 'Unreadable frame: ' + event.data);
                }
            };
            ws.onclose = function(event) {
                addLine('system', 'Connection closed (' + event.code + (event.reason ? ': ' + event.reason : '') + ')');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ content: content }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`))
