package amfx

// ActionMessage 是一次请求或响应的完整信封。
type ActionMessage struct {
	Version int
	Headers []*MessageHeader
	Bodies  []*MessageBody
}

// MessageHeader 是信封中的一个具名头部。
type MessageHeader struct {
	Name           string
	MustUnderstand bool
	Data           any
}

// MessageBody 携带一次调用的目标、响应地址与数据。
type MessageBody struct {
	TargetURI   string
	ResponseURI string
	Data        any
}

func NewActionMessage() *ActionMessage {
	return &ActionMessage{Version: CurrentVersion}
}

func (m *ActionMessage) AddHeader(h *MessageHeader) {
	m.Headers = append(m.Headers, h)
}

func (m *ActionMessage) AddBody(b *MessageBody) {
	m.Bodies = append(m.Bodies, b)
}

// Header 返回第一个名为 name 的头部。
func (m *ActionMessage) Header(name string) (*MessageHeader, bool) {
	for _, h := range m.Headers {
		if h != nil && h.Name == name {
			return h, true
		}
	}
	return nil, false
}
