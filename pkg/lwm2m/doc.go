// Package lwm2m implements the session engine of an LWM2M client.
//
// A Session keeps one device-to-server relationship alive over CoAP on UDP,
// optionally secured with DTLS-PSK. It runs the lifecycle
//
//	Initial -> Bootstrapping -> Connecting -> RegisterRequired -> Registering -> Ready
//
// falling back through Disconnected when the link or the registration is
// lost, and serves read, write, execute, observe and discover requests from
// the server through registered object handlers.
//
// # Creating a Session
//
//	session, err := lwm2m.New(lwm2m.Config{
//	    EndpointName: "urn:imei:490154203237518",
//	    ServerHost:   "leshan.eclipseprojects.io",
//	    OnEvent: func(ev lwm2m.Event) {
//	        log.Printf("event %s %v", ev.Kind, ev.Param)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session.AddObject(lwm2m.NewObject(3311, light).WithInstances(0))
//	session.Register(24 * time.Hour)
//
//	go session.Run(ctx)
//
// # Driving the Session
//
// Run loops over Step, sleeping for the returned hint until a datagram, an
// application answer or Wake arrives. Hosts with their own loop call Step
// directly:
//
//	for {
//	    result, timeout := session.Step(time.Minute)
//	    switch result {
//	    case lwm2m.StepRunAgain:
//	        continue
//	    case lwm2m.StepSleep:
//	        wait(timeout)
//	    case lwm2m.StepIdle:
//	        wait(forever)
//	    }
//	}
//
// # Answering Requests
//
// Handler methods run on the session's dispatch worker. A handler either
// returns its result directly or returns ResultDeferred and later calls
// Session.Response (or Session.DiscoverResponse) with the request's message
// id. Observed resources report changes with Session.Notify.
//
// # Shutting Down
//
// Deinit refuses to run while registered. Call Unregister, wait for
// EventUnregisterDone, then Deinit.
package lwm2m
