package ipc

import (
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// Message is one typed queue entry. Type is positive.
type Message struct {
	Type int64  `json:"type"`
	Data []byte `json:"data"`
}

// Queue is a bounded FIFO of messages with a sender and a receiver wait
// list.
type Queue struct {
	key     Key
	tag     uuid.UUID
	msgs    []Message
	depth   int
	maxSize int

	senders   *proc.WaitList
	receivers *proc.WaitList
}

// QueueInfo describes one message queue.
type QueueInfo struct {
	ID               string `json:"id"`
	Key              Key    `json:"key"`
	Tag              string `json:"tag"`
	Messages         int    `json:"messages"`
	Depth            int    `json:"depth"`
	MaxMessageSize   int    `json:"max_message_size"`
	BlockedSenders   int    `json:"blocked_senders"`
	BlockedReceivers int    `json:"blocked_receivers"`
}

func (q *Queue) info(h arena.Handle) QueueInfo {
	return QueueInfo{
		ID:               h.String(),
		Key:              q.key,
		Tag:              q.tag.String(),
		Messages:         len(q.msgs),
		Depth:            q.depth,
		MaxMessageSize:   q.maxSize,
		BlockedSenders:   q.senders.Len(),
		BlockedReceivers: q.receivers.Len(),
	}
}

// match returns the index of the message msgrcv would take for typ: the
// first message of that type when typ > 0, otherwise the head.
func (q *Queue) match(typ int64) int {
	if len(q.msgs) == 0 {
		return -1
	}
	if typ <= 0 {
		return 0
	}
	return slices.IndexFunc(q.msgs, func(msg Message) bool { return msg.Type == typ })
}

// Msgget returns the queue registered under key, creating it when flags
// carry IPCCreat. IPCCreat|IPCExcl fails if the key is taken.
func (m *Manager) Msgget(key Key, flags int) (arena.Handle, error) {
	if key != KeyPrivate {
		if h, ok := m.queueKeys[key]; ok {
			if flags&IPCCreat != 0 && flags&IPCExcl != 0 {
				return arena.Handle{}, ErrExists
			}
			return h, nil
		}
		if flags&IPCCreat == 0 {
			return arena.Handle{}, ErrNotFound
		}
	}

	q := &Queue{
		key:       key,
		tag:       uuid.New(),
		depth:     m.cfg.QueueDepth,
		maxSize:   m.cfg.MaxMessageSize,
		senders:   m.newWaitList(),
		receivers: m.newWaitList(),
	}
	h, err := m.queues.Insert(q)
	if err != nil {
		return arena.Handle{}, ErrNoQueueSlot
	}
	if key != KeyPrivate {
		m.queueKeys[key] = h
	}
	m.logger.Debug("message queue created",
		zap.Int32("key", int32(key)),
		zap.Stringer("queue", h),
		zap.Stringer("tag", q.tag))
	return h, nil
}

// Msgsnd appends a message of type typ. A full queue blocks the caller
// unless flags carry IPCNoWait, in which case ErrAgain is returned.
func (m *Manager) Msgsnd(c Caller, id arena.Handle, typ int64, data []byte, flags int) error {
	q, ok := m.queues.Get(id)
	if !ok {
		return ErrRemoved
	}
	if typ <= 0 {
		return kerr.ErrInvalidParam
	}
	if len(data) > q.maxSize {
		return ErrMessageSize
	}
	if len(q.msgs) >= q.depth {
		if flags&IPCNoWait != 0 {
			return ErrAgain
		}
		return m.sleep(c, q.senders, false, "msgqueue")
	}

	q.msgs = append(q.msgs, Message{Type: typ, Data: slices.Clone(data)})
	m.satisfied(c, q.senders)
	m.wakeAll(q.receivers)
	return nil
}

// Msgrcv removes a message: the first one of type typ when typ > 0, the
// head otherwise. The payload is truncated to maxSize bytes. With nothing
// matching the caller blocks, or gets ErrNoMessage under IPCNoWait.
func (m *Manager) Msgrcv(c Caller, id arena.Handle, maxSize int, typ int64, flags int) (Message, error) {
	q, ok := m.queues.Get(id)
	if !ok {
		return Message{}, ErrRemoved
	}
	if maxSize < 0 {
		return Message{}, kerr.ErrInvalidParam
	}
	i := q.match(typ)
	if i < 0 {
		if flags&IPCNoWait != 0 {
			return Message{}, ErrNoMessage
		}
		return Message{}, m.sleep(c, q.receivers, false, "msgqueue")
	}

	msg := q.msgs[i]
	q.msgs = slices.Delete(q.msgs, i, i+1)
	if len(msg.Data) > maxSize {
		msg.Data = msg.Data[:maxSize]
	}
	m.satisfied(c, q.receivers)
	m.wakeAll(q.senders)
	return msg, nil
}

// MsgctlRemove destroys the queue. Blocked senders and receivers wake and
// fail with ErrRemoved.
func (m *Manager) MsgctlRemove(id arena.Handle) error {
	q, ok := m.queues.Remove(id)
	if !ok {
		return ErrRemoved
	}
	if q.key != KeyPrivate {
		delete(m.queueKeys, q.key)
	}
	m.wakeAll(q.senders)
	m.wakeAll(q.receivers)
	m.logger.Debug("message queue removed",
		zap.Stringer("queue", id),
		zap.Int("dropped", len(q.msgs)))
	return nil
}
