package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v2"

	"github.com/trusdx/trusdxd/pkg/audio"
)

// handleGetStatus returns the daemon status summary.
func (d *Daemon) handleGetStatus(c *gin.Context) {
	fields := d.statusSnapshot()
	fields["status"] = "running"
	fields["version"] = Version
	fields["cat_port"] = d.config.CAT.PortPath
	fields["audio"] = d.audioUp

	c.JSON(http.StatusOK, fields)
}

// handleGetState returns the full emulated radio state.
func (d *Daemon) handleGetState(c *gin.Context) {
	snap := d.dispatcher.State().Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"vfo_a":        snap.VFOAFreq,
		"vfo_b":        snap.VFOBFreq,
		"mode":         string(snap.Mode),
		"rx_vfo":       string(snap.RXVFO),
		"tx_vfo":       string(snap.TXVFO),
		"split":        string(snap.Split),
		"rit":          snap.RIT == '1',
		"xit":          snap.XIT == '1',
		"rit_offset":   snap.RITOffset,
		"tx":           snap.TXActive,
		"ai_mode":      string(snap.AIMode),
		"vox":          snap.VOXOn,
		"af_gain":      snap.AFGain,
		"rf_gain":      snap.RFGain,
		"squelch":      snap.Squelch,
		"filter_width": snap.FilterWidth,
		"preamp":       snap.Preamp,
	})
}

// handleSetPTT keys or unkeys the radio.
func (d *Daemon) handleSetPTT(c *gin.Context) {
	var req struct {
		TX *bool `json:"tx"`
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.TX == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must carry a tx boolean"})
		return
	}

	if err := d.dispatcher.SetPTT(*req.TX, "http"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"tx":     *req.TX,
	})
}

// handleSetFrequency tunes VFO A. The request runs through the CAT
// dispatcher so the frequency guard and change events apply exactly as
// they would for a serial client.
func (d *Daemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Frequency int64 `json:"frequency" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Frequency < 0 || req.Frequency > 99999999999 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency out of range"})
		return
	}

	d.dispatcher.HandleClientData([]byte(fmt.Sprintf("FA%011d;", req.Frequency)))

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"frequency": d.dispatcher.State().VFOAFreq(),
	})
}

// handleGetAudioDevices returns the host sound devices.
func (d *Daemon) handleGetAudioDevices(c *gin.Context) {
	if !d.audioUp {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audio not available"})
		return
	}

	devices, err := audio.ListDevices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Separate input and output devices with deduplication.
	inputSet := make(map[string]bool)
	outputSet := make(map[string]bool)
	for _, dev := range devices {
		name := strings.TrimSpace(dev.Name)
		if dev.MaxInputs > 0 {
			inputSet[name] = true
		}
		if dev.MaxOutputs > 0 {
			outputSet[name] = true
		}
	}

	inputs := make([]string, 0, len(inputSet))
	for name := range inputSet {
		inputs = append(inputs, name)
	}
	outputs := make([]string, 0, len(outputSet))
	for name := range outputSet {
		outputs = append(outputs, name)
	}

	c.JSON(http.StatusOK, gin.H{
		"input_devices":  inputs,
		"output_devices": outputs,
		"devices":        devices,
	})
}

// handleGetSerialDevices returns candidate radio serial ports.
func (d *Daemon) handleGetSerialDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"serial_devices": listSerialDevices(),
	})
}

// listSerialDevices scans the usual USB serial device paths. The truSDX
// shows up as a CH340, so ttyUSB covers most Linux installs.
func listSerialDevices() []string {
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{
			"/dev/ttyUSB*",
			"/dev/ttyACM*",
			"/dev/serial/by-id/*",
		}
	case "darwin":
		patterns = []string{
			"/dev/tty.usbserial*",
			"/dev/tty.wchusbserial*", // WCH CH340
			"/dev/tty.usbmodem*",
			"/dev/tty.SLAB_*", // Silicon Labs CP210x
		}
	}

	devices := []string{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err == nil {
			devices = append(devices, matches...)
		}
	}

	filtered := devices[:0]
	for _, dev := range devices {
		if _, err := os.Stat(dev); err == nil {
			filtered = append(filtered, dev)
		}
	}
	return filtered
}

// handleGetConfig returns the current configuration. Marshal to YAML then
// convert to a JSON-compatible map so field names match the file format.
func (d *Daemon) handleGetConfig(c *gin.Context) {
	yamlData, err := yaml.Marshal(d.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal config: %v", err),
		})
		return
	}

	var yamlConfig interface{}
	if err := yaml.Unmarshal(yamlData, &yamlConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to unmarshal config: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, convertYamlToJson(yamlConfig))
}

// convertYamlToJson converts YAML map[interface{}]interface{} trees to
// JSON-compatible map[string]interface{} trees.
func convertYamlToJson(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convertYamlToJson(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convertYamlToJson(v)
		}
	}
	return i
}

// deepMerge recursively merges the source map into the destination map.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for k, v := range dst {
		result[k] = v
	}

	for k, v := range src {
		if srcMap, srcOk := v.(map[string]interface{}); srcOk {
			if dstMap, dstOk := result[k].(map[string]interface{}); dstOk {
				result[k] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// handleSaveConfig merges the posted fields into the configuration file.
// Changes apply on the next daemon start.
func (d *Daemon) handleSaveConfig(c *gin.Context) {
	var newConfig map[string]interface{}
	if err := c.ShouldBindJSON(&newConfig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	yamlData, err := yaml.Marshal(d.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal current config: %v", err),
		})
		return
	}

	var currentConfig interface{}
	if err := yaml.Unmarshal(yamlData, &currentConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to unmarshal current config: %v", err),
		})
		return
	}

	currentMap, ok := convertYamlToJson(currentConfig).(map[string]interface{})
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected config shape"})
		return
	}

	merged := deepMerge(currentMap, newConfig)
	warnings := d.validateAudioSection(newConfig)

	yamlData, err = yaml.Marshal(merged)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to marshal config: %v", err),
		})
		return
	}

	if err := os.WriteFile(d.configPath, yamlData, 0644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to write config file: %v", err),
		})
		return
	}

	resp := gin.H{
		"status":           "saved",
		"path":             d.configPath,
		"restart_required": true,
	}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// validateAudioSection checks posted audio device names against the host
// devices and returns warnings for names that cannot be matched.
func (d *Daemon) validateAudioSection(newConfig map[string]interface{}) []string {
	if !d.audioUp {
		return nil
	}
	section, ok := newConfig["audio"].(map[string]interface{})
	if !ok {
		return nil
	}

	devices, err := audio.ListDevices()
	if err != nil {
		return nil
	}

	var warnings []string
	check := func(key, direction string) {
		name, ok := section[key].(string)
		if !ok || name == "" || name == "default" {
			return
		}
		for _, dev := range devices {
			if !strings.Contains(strings.ToLower(dev.Name), strings.ToLower(name)) {
				continue
			}
			if direction == "input" && dev.MaxInputs > 0 {
				return
			}
			if direction == "output" && dev.MaxOutputs > 0 {
				return
			}
		}
		warnings = append(warnings, fmt.Sprintf("no %s device matches '%s'", direction, name))
	}

	check("input_device", "input")
	check("output_device", "output")
	return warnings
}

// handleGetAudioLevels returns the TX audio meters and pipeline counters.
func (d *Daemon) handleGetAudioLevels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"levels":      d.monitor.Current(),
		"statistics":  d.monitor.Statistics(),
		"queue_depth": d.bridge.QueueDepth(),
		"pool":        d.bridge.PoolStats(),
	})
}

// handleGetSpectrum returns the latest TX audio spectrum.
func (d *Daemon) handleGetSpectrum(c *gin.Context) {
	spectrum := d.monitor.Spectrum()
	if spectrum.Bins == nil {
		c.JSON(http.StatusOK, gin.H{
			"available": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"available": true,
		"spectrum":  spectrum,
	})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleAudioWebSocket streams audio meter data for a live display.
func (d *Daemon) handleAudioWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	d.log.Debugf("audio websocket client connected")

	// 10Hz keeps the meter lively without burning CPU.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	// Drain client messages so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			level := d.monitor.Current()
			spectrum := d.monitor.Spectrum()

			data := map[string]interface{}{
				"type":        "audio_data",
				"timestamp":   level.Timestamp,
				"sample_rate": audio.TXSampleRate,
				"rms":         level.RMSDB,
				"peak":        level.PeakDB,
				"clipping":    level.Clipping,
				"spectrum": map[string]interface{}{
					"bins":      spectrum.Bins,
					"freq_step": spectrum.FreqStep,
				},
			}

			if err := conn.WriteJSON(data); err != nil {
				return
			}

		case <-d.ctx.Done():
			return
		}
	}
}

// handleEventsWebSocket streams bus events to the client as they happen.
func (d *Daemon) handleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	d.log.Debugf("events websocket client connected")

	ch, cancel := d.bus.Subscribe(64)
	defer cancel()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Pings flush dead connections even when the bus is quiet.
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	hello := map[string]interface{}{
		"type":   "hello",
		"status": d.statusSnapshot(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-d.ctx.Done():
			return
		}
	}
}
