package platform

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Parameter struct {
	Name  string `xml:"Name" json:"Name"`
	Value string `xml:"Value" json:"Value"`
}

// Command is sent to a logical device and executed asynchronously.
// Its progress is reported through CommandQueuedEvent and CommandCompletionEvent.
type Command struct {
	XMLName    xml.Name    `xml:"Command" json:"-"`
	Name       string      `xml:"CommandName" json:"CommandName"`
	Parameters []Parameter `xml:"Parameters>Parameter,omitempty" json:"Parameters,omitempty"`
}

type CommandStatus struct {
	XMLName       xml.Name   `xml:"CommandStatus" json:"-"`
	CommandID     string     `xml:"CommandId" json:"CommandId"`
	CommandName   string     `xml:"CommandName" json:"CommandName"`
	Status        string     `xml:"Status" json:"Status"`
	QueuedTime    time.Time  `xml:"QueuedTime" json:"QueuedTime"`
	CompletedTime *time.Time `xml:"CompletedTime,omitempty" json:"CompletedTime,omitempty"`
	Response      string     `xml:"Response,omitempty" json:"Response,omitempty"`
}

// SendCommand queues a command for a logical device.
func (c *Client) SendCommand(ctx context.Context, logicalDeviceID string, command Command) (*CommandStatus, error) {
	if logicalDeviceID == "" {
		return nil, errors.New("logical device id is required")
	}
	if command.Name == "" {
		return nil, errors.New("command name is required")
	}

	status := &CommandStatus{}
	path := "devices/" + url.PathEscape(logicalDeviceID) + "/commands"
	if err := c.Do(ctx, http.MethodPost, path, command, status, c.format); err != nil {
		return nil, err
	}
	return status, nil
}

// GetCommand fetches the current status of a command.
func (c *Client) GetCommand(ctx context.Context, commandID string) (*CommandStatus, error) {
	if commandID == "" {
		return nil, errors.New("command id is required")
	}

	status := &CommandStatus{}
	if err := c.Do(ctx, http.MethodGet, "commands/"+url.PathEscape(commandID), nil, status, c.format); err != nil {
		return nil, err
	}
	return status, nil
}

// UpdatePass adds and removes EPCs on an open pass.
// The query keys are always lower-case: add and remove.
func (c *Client) UpdatePass(ctx context.Context, passID string, add []string, remove []string) error {
	if passID == "" {
		return errors.New("pass id is required")
	}

	query := url.Values{}
	if len(add) > 0 {
		query.Set("add", strings.Join(add, ","))
	}
	if len(remove) > 0 {
		query.Set("remove", strings.Join(remove, ","))
	}

	path := "passes/" + url.PathEscape(passID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	_, _, err := c.Send(ctx, http.MethodPut, path, nil, c.format)
	return err
}

// ConfirmSubscription visits the SubscribeURL of a subscription confirmation.
// The URL belongs to the pub/sub service, so the access key is not sent.
func (c *Client) ConfirmSubscription(ctx context.Context, subscribeURL string) error {
	parsed, err := url.Parse(subscribeURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return fmt.Errorf("invalid subscribe url %q", subscribeURL)
	}

	_, _, err = c.send(ctx, http.MethodGet, parsed.String(), nil, FormatXML, false)
	return err
}
