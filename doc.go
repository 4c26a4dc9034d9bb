// Package fdc3 implements the routing core of an FDC3 2.2 Desktop Agent:
// the root agent that brokers Context and Intent traffic between
// independently loaded applications, and the ProxyAgent each hosted
// application uses to talk to it.
//
// The root agent owns three pieces of state, each touched only from its
// single dispatch goroutine (see RootAgent.run): the channel registry and
// its context history, the listener registries (context, event, and
// private-channel-event), and the private-channel access-control lists.
// Every inbound request is a RequestMessage arriving on a Port; the root
// agent stamps it with the sender's AppIdentifier, dispatches it by
// message type to either the ChannelHandler or the IntentHandler, and
// publishes the resulting ResponseMessage plus any fanned-out
// EventMessages through the RootPublisher.
//
// Basic usage, wiring a root agent with an HTTP/WebSocket transport:
//
//	cfg := fdc3.AgentConfig{
//	    AppDirectoryURL: "https://directory.example.com",
//	    ListenAddr:      ":4300",
//	}
//	agent, err := fdc3.NewRootAgent(cfg, fdc3.LogErrors(log.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := fdc3.NewServer(agent, nil)
//	log.Fatal(srv.ListenAndServe(cfg.ListenAddr))
//
// A hosted application talks to the root agent through a ProxyAgent:
//
//	proxy := fdc3.NewProxyAgent(fdc3.ProxyConfig{URL: "ws://localhost:4300/fdc3/connect"}, fdc3.LogErrors(log.Default()))
//	if err := proxy.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer proxy.Close()
//
//	proxy.AddContextListener(ctx, nil, nil, func(c fdc3.Context) {})
//	proxy.Broadcast(ctx, "fdc3.channel.1", fdc3.Context{"type": "fdc3.contact"})
package fdc3
