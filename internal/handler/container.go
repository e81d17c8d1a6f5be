package handler

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/reconcile"
)

// ContainerHandler exposes container management endpoints.
type ContainerHandler struct {
	mgr        *docker.ContainerManager
	client     *docker.Client
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// NewContainerHandler creates a ContainerHandler.
func NewContainerHandler(mgr *docker.ContainerManager, client *docker.Client,
	reconciler *reconcile.Reconciler, logger *slog.Logger) *ContainerHandler {
	return &ContainerHandler{mgr: mgr, client: client, reconciler: reconciler, logger: logger}
}

// List enumerates all containers from the runtime and refreshes the mirror.
func (h *ContainerHandler) List(c *gin.Context) {
	containers, err := h.mgr.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.reconciler.Containers(containers); err != nil {
		h.logger.Warn("container mirror refresh failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"containers": containers})
}

// Inspect returns the full daemon-side detail for one container.
func (h *ContainerHandler) Inspect(c *gin.Context) {
	details, found := h.mgr.Inspect(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Container not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// Start starts a container.
func (h *ContainerHandler) Start(c *gin.Context) {
	h.verb(c, h.mgr.Start, "Container started")
}

// Stop stops a container.
func (h *ContainerHandler) Stop(c *gin.Context) {
	h.verb(c, h.mgr.Stop, "Container stopped")
}

// Restart restarts a container.
func (h *ContainerHandler) Restart(c *gin.Context) {
	h.verb(c, h.mgr.Restart, "Container restarted")
}

func (h *ContainerHandler) verb(c *gin.Context, fn func(string) (string, error), message string) {
	if _, err := fn(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

// Remove removes a container. force=true removes a running one.
func (h *ContainerHandler) Remove(c *gin.Context) {
	force := c.DefaultQuery("force", "false") == "true"
	if _, err := h.mgr.Remove(c.Param("id"), force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Container removed"})
}

// Exec runs a command inside a container and returns the combined output.
func (h *ContainerHandler) Exec(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	output, err := h.mgr.Exec(c.Param("id"), req.Command)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "output": output})
}

// Logs returns recent logs.
func (h *ContainerHandler) Logs(c *gin.Context) {
	tail, _ := strconv.Atoi(c.DefaultQuery("tail", "100"))
	logs, err := h.mgr.Logs(c.Param("id"), tail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Stats returns a resource-usage snapshot.
func (h *ContainerHandler) Stats(c *gin.Context) {
	stats, err := h.mgr.Stats(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.HasSuffix(origin, "://"+r.Host)
	},
}

// LogsWS streams container logs over a WebSocket. A stopped container gets
// its existing logs dumped and the socket closed; a running one is followed
// from its start time until the client disconnects.
func (h *ContainerHandler) LogsWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := c.Param("id")
	details, found := h.mgr.Inspect(id)
	if !found {
		conn.WriteMessage(websocket.TextMessage, []byte("Error: container not found"))
		return
	}
	state, _ := details["State"].(map[string]interface{})
	running, _ := state["Running"].(bool)

	if !running {
		// finite dump, the CLI process exits on its own
		err := h.mgr.StreamLogs(id, wsSink{conn})
		if err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()))
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// detect client disconnect
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	startedAt, _ := state["StartedAt"].(string)
	reader, err := h.client.FollowLogs(ctx, id, startedAt)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()))
		return
	}
	defer reader.Close()

	cfg, _ := details["Config"].(map[string]interface{})
	tty, _ := cfg["Tty"].(bool)
	streamLogLines(reader, tty, func(line []byte) error {
		return conn.WriteMessage(websocket.TextMessage, line)
	})
}

// streamLogLines forwards a container log stream to write, one line at a
// time. A non-TTY stream is framed by the daemon (stdout/stderr multiplexed
// with 8-byte headers), so it is demultiplexed first; splitting the raw
// stream on newlines would corrupt frames whose header bytes contain 0x0A
// or whose payload spans lines. TTY streams carry no framing.
func streamLogLines(r io.Reader, tty bool, write func([]byte) error) error {
	if !tty {
		pr, pw := io.Pipe()
		go func() {
			_, err := stdcopy.StdCopy(pw, pw, r)
			pw.CloseWithError(err)
		}()
		r = pr
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		if err := write(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// wsSink forwards executor output lines to a WebSocket connection.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) WriteLine(line string) {
	s.conn.WriteMessage(websocket.TextMessage, []byte(line))
}
