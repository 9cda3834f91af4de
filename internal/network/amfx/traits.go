package amfx

import "strings"

// Traits 描述记录的形状：类型别名、是否 Externalizable 以及有序属性名。
type Traits struct {
	Alias          string
	Externalizable bool
	Names          []string
}

// shared 报告 traits 是否进入 traits 表。
// 没有别名也没有属性的匿名空记录总是写作 <traits/>，两个方向都不登记。
func (t *Traits) shared() bool {
	return t.Alias != "" || t.Externalizable || len(t.Names) > 0
}

// key 返回用于 traits 表去重的结构化键。
func (t *Traits) key() string {
	var sb strings.Builder
	sb.WriteString(t.Alias)
	if t.Externalizable {
		sb.WriteString("\x00E")
	} else {
		sb.WriteString("\x00P")
	}
	for _, n := range t.Names {
		sb.WriteByte(0)
		sb.WriteString(n)
	}
	return sb.String()
}

// traitsCursor 按 traits 声明的顺序依次给出属性名。
type traitsCursor struct {
	traits *Traits
	next   int
}

func (c *traitsCursor) bound() bool {
	return c.traits != nil
}

func (c *traitsCursor) advance() (string, bool) {
	if c.traits == nil || c.next >= len(c.traits.Names) {
		return "", false
	}
	name := c.traits.Names[c.next]
	c.next++
	return name, true
}

func (c *traitsCursor) expected() int {
	if c.traits == nil {
		return 0
	}
	return len(c.traits.Names)
}
