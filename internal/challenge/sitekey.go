package challenge

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

const scriptBudget = 200 * time.Millisecond

// widgetCall is a render/execute call captured from page scripts
type widgetCall struct {
	family    Family
	siteKey   string
	invisible bool
	v3        bool
}

// siteKeyFromScripts recovers a site key that only appears in page scripts:
// either the render= parameter of the vendor script URL, or the options of a
// grecaptcha/hcaptcha/turnstile render call made by an inline script. Inline
// scripts run in a throwaway goja VM with stub widget objects.
func siteKeyFromScripts(doc *goquery.Document, family Family) widgetCall {
	var onload []string

	found := widgetCall{}
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		u, err := url.Parse(src)
		if err != nil {
			return true
		}
		if !strings.Contains(u.Host+u.Path, "recaptcha") &&
			!strings.Contains(u.Host+u.Path, "hcaptcha") &&
			!strings.Contains(u.Host+u.Path, "challenges.cloudflare") {
			return true
		}
		q := u.Query()
		if cb := q.Get("onload"); cb != "" {
			onload = append(onload, cb)
		}
		if r := q.Get("render"); r != "" && r != "explicit" && r != "onload" {
			found = widgetCall{family: FamilyRecaptcha, siteKey: r, invisible: true, v3: true}
			return false
		}
		return true
	})
	if found.siteKey != "" {
		return found
	}

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		text := s.Text()
		if strings.Contains(text, "grecaptcha") || strings.Contains(text, "hcaptcha") || strings.Contains(text, "turnstile") {
			scripts = append(scripts, text)
		}
	})
	if len(scripts) == 0 {
		return widgetCall{}
	}

	for _, call := range evaluateWidgetScripts(scripts, onload) {
		if call.siteKey == "" {
			continue
		}
		if family != FamilyNone && call.family != family {
			continue
		}
		return call
	}
	return widgetCall{}
}

// evaluateWidgetScripts runs scripts against stub widget APIs and returns the
// calls they made
func evaluateWidgetScripts(scripts []string, onload []string) []widgetCall {
	vm := goja.New()
	timer := time.AfterFunc(scriptBudget, func() {
		vm.Interrupt("script budget exceeded")
	})
	defer timer.Stop()

	var calls []widgetCall

	renderFor := func(family Family) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			opts := call.Argument(1).Export()
			if m, ok := opts.(map[string]interface{}); ok {
				c := widgetCall{family: family}
				if k, ok := m["sitekey"].(string); ok {
					c.siteKey = k
				}
				if size, ok := m["size"].(string); ok && size == "invisible" {
					c.invisible = true
				}
				calls = append(calls, c)
			}
			return vm.ToValue(0)
		}
	}

	thenable := map[string]interface{}{
		"then": func(call goja.FunctionCall) goja.Value { return goja.Undefined() },
	}

	recaptcha := map[string]interface{}{
		"render": renderFor(FamilyRecaptcha),
		"execute": func(call goja.FunctionCall) goja.Value {
			if k, ok := call.Argument(0).Export().(string); ok && k != "" {
				calls = append(calls, widgetCall{family: FamilyRecaptcha, siteKey: k, invisible: true, v3: true})
			}
			return vm.ToValue(thenable)
		},
		"ready": func(call goja.FunctionCall) goja.Value {
			if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
				fn(goja.Undefined())
			}
			return goja.Undefined()
		},
		"reset":       func(call goja.FunctionCall) goja.Value { return goja.Undefined() },
		"getResponse": func(call goja.FunctionCall) goja.Value { return vm.ToValue("") },
	}
	recaptcha["enterprise"] = recaptcha

	element := map[string]interface{}{
		"addEventListener": func(call goja.FunctionCall) goja.Value { return goja.Undefined() },
		"setAttribute":     func(call goja.FunctionCall) goja.Value { return goja.Undefined() },
		"appendChild":      func(call goja.FunctionCall) goja.Value { return goja.Undefined() },
		"style":            map[string]interface{}{},
	}

	vm.Set("window", vm.GlobalObject())
	vm.Set("self", vm.GlobalObject())
	vm.Set("grecaptcha", recaptcha)
	vm.Set("hcaptcha", map[string]interface{}{
		"render":  renderFor(FamilyHCaptcha),
		"execute": func(call goja.FunctionCall) goja.Value { return vm.ToValue(thenable) },
	})
	vm.Set("turnstile", map[string]interface{}{
		"render": renderFor(FamilyTurnstile),
		"ready": func(call goja.FunctionCall) goja.Value {
			if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
				fn(goja.Undefined())
			}
			return goja.Undefined()
		},
	})
	vm.Set("document", map[string]interface{}{
		"getElementById":   func(call goja.FunctionCall) goja.Value { return vm.ToValue(element) },
		"querySelector":    func(call goja.FunctionCall) goja.Value { return vm.ToValue(element) },
		"createElement":    func(call goja.FunctionCall) goja.Value { return vm.ToValue(element) },
		"body":             element,
		"head":             element,
		"addEventListener": invokeCallback(1),
	})
	vm.Set("addEventListener", invokeCallback(1))
	vm.Set("setTimeout", invokeCallback(0))
	vm.Set("console", map[string]interface{}{
		"log":   func(call goja.FunctionCall) goja.Value { return nil },
		"error": func(call goja.FunctionCall) goja.Value { return nil },
	})

	for _, src := range scripts {
		if _, err := vm.RunString(src); err != nil {
			// Most page scripts touch DOM we do not model
			log.Debug().Err(err).Msg("Widget script evaluation stopped")
		}
	}

	for _, name := range onload {
		fn, ok := goja.AssertFunction(vm.Get(name))
		if !ok {
			continue
		}
		if _, err := fn(goja.Undefined()); err != nil {
			log.Debug().Err(err).Str("callback", name).Msg("Widget onload callback failed")
		}
	}

	return calls
}

// invokeCallback returns a stub that immediately calls the function passed at
// argument index i
func invokeCallback(i int) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(i)); ok {
			fn(goja.Undefined())
		}
		return goja.Undefined()
	}
}
