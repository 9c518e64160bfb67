package bindgen

import (
	"strconv"
	"strings"
)

const privateFunctions = `
/* Maps CLASS() pointers to their Python wrapper types so a native object
 * always comes back as the wrapper of its most derived class, whatever
 * the declared return type of the function producing it.
 */
static int TOTAL_CLASSES = 0;

/* This module, so classes can look each other up. */
static PyObject *g_module = NULL;

#define CONSTRUCT_INITIALIZE(class, virt_class, constructor, object, ...) \
    (class)(((virt_class) (&__ ## class))->constructor(object, ## __VA_ARGS__))

#undef BUFF_SIZE
#define BUFF_SIZE 10240

/* Generic wrapper type
 */
typedef struct Gen_wrapper_t *Gen_wrapper;
struct Gen_wrapper_t {
    PyObject_HEAD

    void *base;

    /* The base is a Python object. */
    int base_is_python_object;

    /* The base is managed by this wrapper. */
    int base_is_internal;

    PyObject *python_object1;
    PyObject *python_object2;
};

static struct python_wrapper_map_t {
    Object class_ref;
    PyTypeObject *python_type;
    void (*initialize_proxies)(Gen_wrapper self, void *item);
} python_wrappers[{{classes_length}}];

/* Proxy patch table row: the slot at offset in a native object is replaced
 * by proxy when the Python subclass overrides method.
 */
struct proxy_patch_t {
    const char *method;
    size_t offset;
    void *proxy;
};

/* Create the relevant wrapper from the item based on the lookup table.
 */
Gen_wrapper new_class_wrapper(Object item, int item_is_python_object) {
    Gen_wrapper result = NULL;
    Object cls = NULL;
    struct python_wrapper_map_t *python_wrapper = NULL;
    int cls_index = 0;

    // Return a Py_None object for a NULL pointer
    if(item == NULL) {
        Py_IncRef((PyObject *) Py_None);
        return (Gen_wrapper) Py_None;
    }
    // Search for subclasses
    for(cls = (Object) item->__class__; cls != cls->__super__; cls = cls->__super__) {
        for(cls_index = 0; cls_index < TOTAL_CLASSES; cls_index++) {
            python_wrapper = &(python_wrappers[cls_index]);

            if(python_wrapper->class_ref == cls) {
                PyErr_Clear();

                result = (Gen_wrapper) _PyObject_New(python_wrapper->python_type);
                result->base = item;
                result->base_is_python_object = item_is_python_object;
                result->base_is_internal = 1;
                result->python_object1 = NULL;
                result->python_object2 = NULL;

                if(python_wrapper->initialize_proxies != NULL) {
                    python_wrapper->initialize_proxies(result, (void *) item);
                }
                return result;
            }
        }
    }
    PyErr_Format(PyExc_RuntimeError, "Unable to find a wrapper for object %s", NAMEOF(item));

    return NULL;
}

static struct {
    int code;
    PyObject **exception;
} exception_map[] = {
    {EProgrammingError, &PyExc_SystemError},
    {EKeyError, &PyExc_KeyError},
    {ERuntimeError, &PyExc_RuntimeError},
    {EInvalidParameter, &PyExc_TypeError},
    {EWarning, &PyExc_AssertionError},
    {EIOError, &PyExc_IOError},
    {0, NULL}
};

static PyObject *resolve_exception(char **error_buff) {
    int *type = (int *){{get_current_error}}(error_buff);
    int index = 0;

    for(index = 0; exception_map[index].exception != NULL; index++) {
        if(exception_map[index].code == *type) {
            return *exception_map[index].exception;
        }
    }
    return PyExc_RuntimeError;
}

static int type_check(PyObject *obj, PyTypeObject *type) {
    PyTypeObject *tmp = NULL;

    // Walk the inheritance chain looking for type
    if(obj) {
        for(tmp = Py_TYPE(obj);
            tmp && tmp != &PyBaseObject_Type;
            tmp = tmp->tp_base) {
            if(tmp == type) return 1;
        }
    }
    return 0;
}

static int check_error() {
    char *buffer = NULL;
    int *error_type = (int *){{get_current_error}}(&buffer);

    if(*error_type != EZero) {
        PyObject *exception = resolve_exception(&buffer);

        if(buffer != NULL) {
            PyErr_Format(exception, "%s", buffer);
        } else {
            PyErr_Format(exception, "Unable to retrieve exception reason.");
        }
        ClearError();
        return 1;
    }
    return 0;
}

/* Reports whether a Python subclass of type defines method. Only then is
 * the native slot redirected into Python.
 *
 * The MRO of self is walked until type is reached.
 */
static int check_method_override(PyObject *self, PyTypeObject *type, const char *method) {
    struct _typeobject *ob_type = NULL;
    PyObject *mro = NULL;
    PyObject *py_method = NULL;
    PyObject *item_object = NULL;
    PyObject *dict = NULL;
    Py_ssize_t item_index = 0;
    Py_ssize_t number_of_items = 0;
    int found = 0;

    ob_type = Py_TYPE(self);
    if(ob_type == NULL) {
        return 0;
    }
    mro = ob_type->tp_mro;

    py_method = PyUnicode_FromString(method);
    number_of_items = PySequence_Size(mro);

    for(item_index = 0; item_index < number_of_items; item_index++) {
        item_object = PySequence_GetItem(mro, item_index);

        if(item_object == (PyObject *) type) {
            Py_DecRef(item_object);
            break;
        }
        // The type dict is a mapping proxy, PyDict_Contains does not apply.
        dict = PyObject_GetAttrString(item_object, "__dict__");
        if(dict != NULL && PySequence_Contains(dict, py_method)) {
            found = 1;
        }
        Py_DecRef(dict);
        Py_DecRef(item_object);

        if(found != 0) {
            break;
        }
    }
    Py_DecRef(py_method);
    PyErr_Clear();

    return found;
}

/* Copies the pending Python exception into the native error buffer.
 */
void pytsk_fetch_error(void) {
    PyObject *exception_traceback = NULL;
    PyObject *exception_type = NULL;
    PyObject *exception_value = NULL;
    PyObject *string_object = NULL;
    PyObject *utf8_string_object = NULL;
    char *str_c = NULL;
    char *error_str = NULL;
    int *error_type = (int *){{get_current_error}}(&error_str);

    PyErr_Fetch(&exception_type, &exception_value, &exception_traceback);

    string_object = PyObject_Repr(exception_value);
    utf8_string_object = PyUnicode_AsUTF8String(string_object);

    if(utf8_string_object != NULL) {
        str_c = PyBytes_AsString(utf8_string_object);
    }
    if(str_c != NULL) {
        strncpy(error_str, str_c, BUFF_SIZE - 1);
        error_str[BUFF_SIZE - 1] = 0;
        *error_type = ERuntimeError;
    }
    PyErr_Restore(exception_type, exception_value, exception_traceback);

    if(utf8_string_object != NULL) {
        Py_DecRef(utf8_string_object);
    }
    Py_DecRef(string_object);
}

/* Copies a Python int to an unsigned 64-bit value.
 */
uint64_t integer_object_copy_to_uint64(PyObject *integer_object) {
    unsigned long long long_value = 0;
    int result = 0;

    if(integer_object == NULL) {
        PyErr_Format(PyExc_ValueError, "Missing integer object");
        return (uint64_t) -1;
    }
    PyErr_Clear();

    result = PyObject_IsInstance(integer_object, (PyObject *) &PyLong_Type);

    if(result == -1) {
        pytsk_fetch_error();
        return (uint64_t) -1;
    }
    if(result == 0) {
        PyErr_Format(PyExc_TypeError, "Integer object expected");
        return (uint64_t) -1;
    }
    long_value = PyLong_AsUnsignedLongLong(integer_object);

    if(PyErr_Occurred()) {
        PyErr_Clear();
        PyErr_Format(PyExc_ValueError, "Integer object value out of bounds");
        return (uint64_t) -1;
    }
    return (uint64_t) long_value;
}

/* Copies a Python int into a signed value within [minimum, maximum].
 */
static int integer_object_copy_to_signed(PyObject *integer_object, int64_t minimum, int64_t maximum, int64_t *value) {
    long long long_value = 0;
    int overflow = 0;

    if(!PyLong_Check(integer_object)) {
        PyErr_Format(PyExc_TypeError, "Integer object expected");
        return -1;
    }
    long_value = PyLong_AsLongLongAndOverflow(integer_object, &overflow);

    if(overflow != 0 || long_value < minimum || long_value > maximum) {
        PyObject *repr = PyObject_Repr(integer_object);

        PyErr_Format(PyExc_OverflowError, "integer %s out of range [%lld, %lld]",
                     repr != NULL ? PyUnicode_AsUTF8(repr) : "?", (long long) minimum, (long long) maximum);
        Py_DecRef(repr);
        return -1;
    }
    if(long_value == -1 && PyErr_Occurred()) {
        return -1;
    }
    *value = (int64_t) long_value;
    return 0;
}

/* Copies a Python int into an unsigned value within [0, maximum].
 */
static int integer_object_copy_to_unsigned(PyObject *integer_object, uint64_t maximum, uint64_t *value) {
    unsigned long long long_value = 0;

    if(!PyLong_Check(integer_object)) {
        PyErr_Format(PyExc_TypeError, "Integer object expected");
        return -1;
    }
    long_value = PyLong_AsUnsignedLongLong(integer_object);

    if((long_value == (unsigned long long) -1 && PyErr_Occurred()) || long_value > maximum) {
        PyObject *repr = PyObject_Repr(integer_object);

        PyErr_Clear();
        PyErr_Format(PyExc_OverflowError, "integer %s out of range [0, %llu]",
                     repr != NULL ? PyUnicode_AsUTF8(repr) : "?", (unsigned long long) maximum);
        Py_DecRef(repr);
        return -1;
    }
    *value = (uint64_t) long_value;
    return 0;
}

`

// writePrivateFunctions emits the helpers every generated module relies on.
func writePrivateFunctions(w *writer) {
	r := strings.NewReplacer(
		"{{classes_length}}", strconv.Itoa(w.module.classes.Len()+1),
		"{{get_current_error}}", w.module.ErrorFunction,
	)
	w.write(r.Replace(privateFunctions))
}
