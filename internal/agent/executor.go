package agent

import (
	"fmt"

	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
)

var executorSource = fmt.Sprintf(`(function(){
if (window.__flowrecExecutor) { return "active"; }
function fail(code, msg) { var e = new Error(msg); e.code = code; throw e; }
function find(sel) {
  try { return document.querySelector(sel); } catch (err) { fail(%[1]q, "invalid selector: " + sel); }
}
function need(sel) {
  var el = find(sel);
  if (!el) fail(%[2]q, "element not found");
  return el;
}
var SETTERS = {INPUT: HTMLInputElement, TEXTAREA: HTMLTextAreaElement, SELECT: HTMLSelectElement};
function fire(el, type) {
  el.dispatchEvent(new Event(type, {bubbles: true, cancelable: type !== "input"}));
}
window.__flowrecExecutor = {
  ping: function(){ return "active"; },
  query: function(sel){ return !!find(sel); },
  click: function(sel){
    var el = need(sel);
    if (el.scrollIntoView) el.scrollIntoView({block: "center", inline: "center"});
    el.click();
    return true;
  },
  setValue: function(sel, value){
    var el = need(sel);
    var ctor = SETTERS[el.tagName];
    if (ctor) {
      if (el.focus) el.focus();
      var desc = Object.getOwnPropertyDescriptor(ctor.prototype, "value");
      if (desc && desc.set) desc.set.call(el, value); else el.value = value;
    } else if (el.isContentEditable) {
      if (el.focus) el.focus();
      el.textContent = value;
    } else {
      fail(%[3]q, "unsupported target");
    }
    fire(el, "input");
    fire(el, "change");
    if (document.activeElement === el && el.blur) el.blur();
    else { el.dispatchEvent(new FocusEvent("blur")); el.dispatchEvent(new FocusEvent("focusout", {bubbles: true})); }
    return true;
  }
};
return "installed";
})()`, cdpcontrol.CodeValidation, cdpcontrol.CodeElementNotFound, cdpcontrol.CodeUnsupportedTarget)

// ExecutorSource returns the executor install script.
func ExecutorSource() string { return executorSource }

// ExecutorPing returns an expression answering Ack when the executor is installed.
func ExecutorPing() string {
	return wrapJSEval(`var x = window.__flowrecExecutor;
return JSON.stringify({ok:true,data: x ? x.ping() : ""});`)
}

// Query returns an expression reporting whether selector matches.
func Query(selector string) string { return call("query", jsString(selector)) }

// Click returns an expression that activates the element matched by selector.
func Click(selector string) string { return call("click", jsString(selector)) }

// SetValue returns an expression that assigns value and fires input, change and blur.
func SetValue(selector, value string) string {
	return call("setValue", jsString(selector)+", "+jsString(value))
}

func call(method, args string) string {
	return wrapJSEval(fmt.Sprintf(`var x = window.__flowrecExecutor;
if (!x) return JSON.stringify({ok:false,error_code:%q,error_message:"executor not installed"});
try {
  return JSON.stringify({ok:true,data:x.%s(%s)});
} catch (err) {
  return JSON.stringify({ok:false,error_code:String(err && err.code || %q),error_message:String(err && err.message || err)});
}`, cdpcontrol.CodeAgentMissing, method, args, cdpcontrol.CodeEvalFailure))
}
