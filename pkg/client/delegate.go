package client

// DelegateFuncs adapts plain functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	OnEstablished func(c *Connection)
	OnFailed      func(c *Connection, err error)
	OnLinked      func(c *Connection)
	OnLinkFailed  func(c *Connection, err error)
}

func (d DelegateFuncs) ConnectionEstablished(c *Connection) {
	if d.OnEstablished != nil {
		d.OnEstablished(c)
	}
}

func (d DelegateFuncs) ConnectionFailed(c *Connection, err error) {
	if d.OnFailed != nil {
		d.OnFailed(c, err)
	}
}

func (d DelegateFuncs) LinkSucceeded(c *Connection) {
	if d.OnLinked != nil {
		d.OnLinked(c)
	}
}

func (d DelegateFuncs) LinkFailed(c *Connection, err error) {
	if d.OnLinkFailed != nil {
		d.OnLinkFailed(c, err)
	}
}
