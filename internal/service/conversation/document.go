package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

// encodeDocument renders the on-disk form of a conversation.
func encodeDocument(conv conversation.Conversation) ([]byte, error) {
	if conv.Turns == nil {
		conv.Turns = []conversation.Turn{}
	}
	data, err := sonic.ConfigStd.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}
	return data, nil
}

// decodeDocument parses a document. Missing optional fields stay empty; a
// missing id falls back to the one implied by the file name.
func decodeDocument(id string, data []byte) (conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := sonic.Unmarshal(data, &conv); err != nil {
		return conversation.Conversation{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	if conv.Turns == nil {
		conv.Turns = []conversation.Turn{}
	}
	return conv, nil
}

func (s *Store) readDocument(id string) (conversation.Conversation, error) {
	data, err := os.ReadFile(s.layout.DocumentPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return conversation.Conversation{}, ErrConversationNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("read conversation %s: %w", id, err)
	}
	return decodeDocument(id, data)
}

// writeDocument replaces the document atomically: the full history goes to a
// temporary file which is then renamed over the previous version.
func (s *Store) writeDocument(conv conversation.Conversation) error {
	data, err := encodeDocument(conv)
	if err != nil {
		return err
	}

	dir := s.layout.ConversationsDir()
	if err := layout.EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, conv.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close document: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, conv.ID+layout.ExtDocument)); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}
