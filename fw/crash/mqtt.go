//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package crash

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	mqttTimeout  = 10 * time.Second
	defaultTopic = "fastload/crash"
)

// MQTTClientOptsFromURL turns mqtt[s]://[user:pass@]host[:port]/topic into
// client options and a topic. The topic defaults to fastload/crash.
func MQTTClientOptsFromURL(us, clientID string) (*mqtt.ClientOptions, string, error) {
	u, err := url.Parse(us)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if u.Host == "" {
		return nil, "", errors.Errorf("no broker host in %q", us)
	}
	if clientID == "" {
		clientID = fmt.Sprintf("fastload-%d", rand.Int31())
	}
	topic := strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		topic = defaultTopic
	}
	u.Path = ""
	switch u.Scheme {
	case "mqtts":
		u.Scheme = "tcps"
		if u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, 8883)
		}
	case "mqtt", "tcp":
		u.Scheme = "tcp"
		if u.Port() == "" {
			u.Host = fmt.Sprintf("%s:%d", u.Host, 1883)
		}
	default:
		return nil, "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
		u.User = nil
	}
	broker := u.String()
	glog.V(1).Infof("Connecting %s to %s", clientID, broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetUsername(user)
	opts.SetPassword(pass)
	opts.SetConnectTimeout(mqttTimeout)
	return opts, topic, nil
}

// MQTTSink publishes watchdog dumps to a broker, for boards that are not
// watched over a console.
type MQTTSink struct {
	cli   mqtt.Client
	topic string
}

func NewMQTTSink(us, clientID string) (*MQTTSink, error) {
	opts, topic, err := MQTTClientOptsFromURL(us, clientID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, errors.Errorf("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Annotatef(err, "MQTT connect error")
	}
	return &MQTTSink{cli: cli, topic: topic}, nil
}

// Publish sends d as JSON with QoS 1.
func (s *MQTTSink) Publish(d *Dump) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Trace(err)
	}
	token := s.cli.Publish(s.topic, 1 /* qos */, false, data)
	if !token.WaitTimeout(mqttTimeout) {
		return errors.Errorf("MQTT publish timed out")
	}
	if err := token.Error(); err != nil {
		return errors.Annotatef(err, "MQTT publish error")
	}
	glog.Infof("published dump to %s (%d bytes)", s.topic, len(data))
	return nil
}

func (s *MQTTSink) Close() {
	s.cli.Disconnect(250)
}

func (s *MQTTSink) String() string {
	return fmt.Sprintf("[mqtt %s]", s.topic)
}
