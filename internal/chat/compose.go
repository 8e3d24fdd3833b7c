package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/upload"
)

const defaultVoiceMIMEType = "audio/webm"

// SendText sends text to the active conversation. Blank text or no active
// conversation is a no-op. The optimistic copy is appended immediately.
func (c *Controller) SendText(ctx context.Context, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	convID, userID := c.activeID, c.user.ID
	if text == "" || convID == "" || c.closed {
		c.mu.Unlock()

		return domain.Message{}, nil
	}
	wasTyping := c.selfTyping
	c.stopTypingLocked()
	c.draft = ""
	c.mu.Unlock()

	if wasTyping {
		c.sendTyping(ctx, convID, userID, false)
	}

	msg, err := c.deliver(ctx, domain.Message{
		ConversationID: convID,
		SenderID:       userID,
		Content:        text,
		Kind:           domain.MessageKindText,
	})
	if err != nil {
		return msg, c.fail("send_message", err)
	}

	return msg, nil
}

// deliver appends msg optimistically and hands it to the transport. A
// delivery problem that leaves the message queued still returns the stored
// copy along with the error. Callers record the failure.
func (c *Controller) deliver(ctx context.Context, msg domain.Message) (domain.Message, error) {
	msg.ClientID = uuid.NewString()
	msg.Timestamp = time.Now()
	msg.Status = domain.DeliveryPending
	msg = msg.Normalize()

	c.store.AppendMessage(msg)
	c.touch(msg)

	receipt, err := c.transport.Send(ctx, msg)
	if err != nil {
		c.store.UpdateStatus(msg.ConversationID, msg.ClientID, domain.DeliveryFailed)
		stored := c.storedCopy(msg)
		c.publish(connectors.TopicMessage, domain.MessageEvent{Message: stored})

		return stored, err
	}

	c.store.ReplaceByClientID(msg.ClientID, receipt.Message)
	stored := c.storedCopy(msg)
	c.publish(connectors.TopicMessage, domain.MessageEvent{Message: stored})
	c.notify()
	c.logger.Debug("message handed to transport", "client_id", msg.ClientID, "status", receipt.Status.String())
	if receipt.Err != nil {
		return stored, receipt.Err
	}

	return stored, nil
}

func (c *Controller) storedCopy(msg domain.Message) domain.Message {
	if stored, ok := c.store.MessageByClientID(msg.ConversationID, msg.ClientID); ok {
		return stored
	}

	return msg
}

func (c *Controller) touch(msg domain.Message) {
	conv := c.store.Touch(msg)
	c.publish(connectors.TopicConversation, conv)
}

// SetTypingDraft records the composer text. The first keystroke sends a
// typing-start signal; the idle timer sends typing-stop after the last one.
func (c *Controller) SetTypingDraft(ctx context.Context, text string) {
	c.mu.Lock()
	c.draft = text
	convID, userID := c.activeID, c.user.ID
	if convID == "" || c.closed {
		c.mu.Unlock()
		c.notify()

		return
	}

	if strings.TrimSpace(text) == "" {
		wasTyping := c.selfTyping
		c.stopTypingLocked()
		c.mu.Unlock()
		if wasTyping {
			c.sendTyping(ctx, convID, userID, false)
		}
		c.notify()

		return
	}

	start := !c.selfTyping
	c.selfTyping = true
	c.typingGen++
	gen := c.typingGen
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.opts.TypingIdle, func() {
		c.typingIdle(gen)
	})
	c.mu.Unlock()

	if start {
		c.sendTyping(ctx, convID, userID, true)
	}
	c.notify()
}

func (c *Controller) typingIdle(gen uint64) {
	c.mu.Lock()
	if gen != c.typingGen || !c.selfTyping {
		c.mu.Unlock()

		return
	}
	c.selfTyping = false
	c.typingTimer = nil
	convID, userID := c.activeID, c.user.ID
	c.mu.Unlock()

	c.sendTyping(c.ctx, convID, userID, false)
}

// stopTypingLocked cancels the idle timer. Callers send the stop signal
// themselves when selfTyping was set. Must be called with mu held.
func (c *Controller) stopTypingLocked() {
	c.selfTyping = false
	c.typingGen++
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

func (c *Controller) sendTyping(ctx context.Context, conversationID, userID string, isTyping bool) {
	if err := c.transport.SendTyping(ctx, conversationID, userID, isTyping); err != nil {
		c.logger.Debug("typing signal dropped", "conversation_id", conversationID, "typing", isTyping, "error", err)
	}
}

// SendFile uploads files in order and sends one message per file. The
// first failure stops the batch; messages already sent stay.
func (c *Controller) SendFile(ctx context.Context, files []*upload.File) ([]domain.Message, error) {
	c.mu.Lock()
	convID, userID := c.activeID, c.user.ID
	if convID == "" || len(files) == 0 || c.closed {
		c.mu.Unlock()

		return nil, nil
	}
	c.uploading = true
	c.uploadProgress = 0
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
		c.notify()
	}()

	total := len(files)
	sent := make([]domain.Message, 0, total)
	for i, file := range files {
		name := fileName(file)
		res, err := c.uploader.UploadChatFile(ctx, file, convID, userID, func(percent int) {
			c.reportUpload(convID, name, i, total, percent)
		})
		if err != nil {
			return sent, c.fail("send_file", &BatchError{Index: i, Name: name, Err: err})
		}
		c.reportUpload(convID, name, i, total, 100)

		msg, err := c.deliver(ctx, fileMessage(convID, userID, file, res))
		if msg.Status == domain.DeliveryFailed {
			return sent, c.fail("send_file", &BatchError{Index: i, Name: name, Err: err})
		}
		if err != nil {
			// Queued for the next connection; the batch goes on.
			_ = c.fail("send_file", err)
		}
		sent = append(sent, msg)
	}

	return sent, nil
}

// reportUpload folds one file's progress into overall batch progress.
func (c *Controller) reportUpload(convID, name string, index, total, percent int) {
	overall := (index*100 + percent) / total

	c.mu.Lock()
	if overall > c.uploadProgress {
		c.uploadProgress = overall
	}
	overall = c.uploadProgress
	c.mu.Unlock()

	c.publish(connectors.TopicUploadProgress, connectors.UploadProgress{
		ConversationID: convID,
		FileName:       name,
		Index:          index,
		Total:          total,
		Percent:        overall,
	})
	c.notify()
}

func fileMessage(convID, userID string, file *upload.File, res upload.Result) domain.Message {
	mime := res.Metadata.MIMEType
	if mime == "" {
		mime = file.ContentType()
	}
	name := res.Metadata.OriginalName
	if name == "" {
		name = file.Name
	}

	kind := domain.MessageKindFile
	switch upload.CategoryFor(mime) {
	case upload.CategoryImage:
		kind = domain.MessageKindImage
	case upload.CategoryAudio:
		kind = domain.MessageKindAudio
	}

	return domain.Message{
		ConversationID: convID,
		SenderID:       userID,
		Content:        name,
		Kind:           kind,
		File: &domain.FileRef{
			URL:       res.URL,
			Name:      name,
			MIMEType:  mime,
			Size:      res.Metadata.Size,
			Preview:   res.Preview,
			LocalOnly: res.Simulated,
		},
	}
}

func fileName(file *upload.File) string {
	if file == nil || strings.TrimSpace(file.Name) == "" {
		return "file"
	}

	return file.Name
}

// StartVoiceRecording acquires the microphone until StopVoiceRecording or
// CancelVoiceRecording.
func (c *Controller) StartVoiceRecording(ctx context.Context) error {
	if c.opts.Capture == nil {
		return c.fail("start_recording", ErrNoAudioCapture)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()

		return c.fail("start_recording", ErrClosed)
	case c.recording != nil:
		c.mu.Unlock()

		return c.fail("start_recording", ErrAlreadyRecording)
	case c.activeID == "":
		c.mu.Unlock()

		return c.fail("start_recording", ErrNoActiveConversation)
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return c.fail("start_recording", err)
	}
	// The recording outlives ctx; it belongs to the session.
	rec, err := c.opts.Capture.Start(c.ctx)
	if err != nil {
		return c.fail("start_recording", err)
	}

	c.mu.Lock()
	if c.recording != nil || c.closed {
		c.mu.Unlock()
		_ = rec.Close()

		return c.fail("start_recording", ErrAlreadyRecording)
	}
	c.recording = rec
	c.mu.Unlock()
	c.logger.Info("voice recording started")
	c.notify()

	return nil
}

// StopVoiceRecording finishes the recording and sends it as an audio
// message. The capture device is released on every path.
func (c *Controller) StopVoiceRecording(ctx context.Context) (domain.Message, error) {
	c.mu.Lock()
	rec := c.recording
	c.recording = nil
	c.mu.Unlock()
	if rec == nil {
		return domain.Message{}, c.fail("stop_recording", ErrNotRecording)
	}
	c.notify()
	defer func() {
		if err := rec.Close(); err != nil {
			c.logger.Warn("release recording failed", "error", err)
		}
	}()

	data, err := rec.Stop()
	if err != nil {
		return domain.Message{}, c.fail("stop_recording", err)
	}
	mime := rec.MIMEType()
	if mime == "" {
		mime = defaultVoiceMIMEType
	}
	file := &upload.File{Name: voiceFileName(time.Now(), mime), MIMEType: mime, Data: data}

	sent, err := c.SendFile(ctx, []*upload.File{file})
	if len(sent) > 0 {
		return sent[0], err
	}

	return domain.Message{}, err
}

// CancelVoiceRecording discards a running recording.
func (c *Controller) CancelVoiceRecording() {
	c.mu.Lock()
	rec := c.recording
	c.recording = nil
	c.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		c.logger.Warn("release recording failed", "error", err)
	}
	c.notify()
}

func voiceFileName(at time.Time, mime string) string {
	ext := ".webm"
	switch mime {
	case "audio/ogg":
		ext = ".ogg"
	case "audio/wav":
		ext = ".wav"
	case "audio/mpeg":
		ext = ".mp3"
	case "audio/mp4":
		ext = ".m4a"
	}

	return "voice-" + at.UTC().Format("20060102-150405") + ext
}
